package broker

import (
	"context"
	"sync"

	"github.com/NekosCloud/spectacles-go/serialization"
)

// TransportDelivery is the raw transport-side view of one inbound message.
// Each transport wraps its native delivery type (an AMQP delivery, a Redis
// pub/sub message, an in-process envelope) in this interface before handing
// it to Dispatcher.Dispatch. Transports without acknowledgement semantics
// implement Ack/Nack/Reject as no-ops.
type TransportDelivery interface {
	// Event returns the event name the message was routed with.
	Event() string

	// Body returns the raw message bytes.
	Body() []byte

	// CorrelationID returns the correlation id property, if any.
	CorrelationID() string

	// ReplyTo returns the reply destination property, if any.
	ReplyTo() string

	// Ack marks the message as successfully processed.
	Ack() error

	// Nack negatively acknowledges the message.
	Nack(requeue bool) error

	// Reject rejects the message.
	Reject(requeue bool) error

	// Reply sends raw bytes back to the message's reply destination,
	// echoing its correlation id.
	Reply(ctx context.Context, body []byte) error
}

// Delivery is the capability object handed to handlers: the decoded payload
// plus the transport's response affordances. Settlement (Ack, Nack, Reject)
// is exactly-once; the second settlement attempt returns ErrAlreadySettled.
type Delivery struct {
	td         TransportDelivery
	payload    interface{}
	serializer serialization.Serializer

	mu      sync.Mutex
	settled bool
}

func newDelivery(td TransportDelivery, payload interface{}, s serialization.Serializer) *Delivery {
	return &Delivery{td: td, payload: payload, serializer: s}
}

// Event returns the event name the message was delivered for.
func (d *Delivery) Event() string {
	return d.td.Event()
}

// Payload returns the deserialized message payload.
func (d *Delivery) Payload() interface{} {
	return d.payload
}

// Body returns the raw message bytes.
func (d *Delivery) Body() []byte {
	return d.td.Body()
}

// CorrelationID returns the correlation id the message carried, if any.
func (d *Delivery) CorrelationID() string {
	return d.td.CorrelationID()
}

// ReplyTo returns the reply destination the message carried, if any.
func (d *Delivery) ReplyTo() string {
	return d.td.ReplyTo()
}

// Ack marks the message as successfully processed.
func (d *Delivery) Ack() error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.td.Ack()
}

// Nack negatively acknowledges the message.
func (d *Delivery) Nack(requeue bool) error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.td.Nack(requeue)
}

// Reject rejects the message.
func (d *Delivery) Reject(requeue bool) error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.td.Reject(requeue)
}

// Reply serializes data and sends it to the message's reply destination with
// the original correlation id attached. Reply does not settle the delivery.
func (d *Delivery) Reply(ctx context.Context, data interface{}) error {
	if d.td.ReplyTo() == "" {
		return ErrNoReplyAddress
	}
	body, err := d.serializer.Marshal(data)
	if err != nil {
		return err
	}
	return d.td.Reply(ctx, body)
}

func (d *Delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return nil
}
