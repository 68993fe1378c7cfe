package amqp

import (
	"context"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// eventDelivery adapts an AMQP delivery from an event queue to the
// broker.TransportDelivery contract. When the consumer runs in auto-ack mode
// the settlement methods are no-ops: the server already considers the
// message delivered.
type eventDelivery struct {
	delivery amqp091.Delivery
	event    string
	broker   *Broker
	autoAck  bool
}

func (d *eventDelivery) Event() string {
	return d.event
}

func (d *eventDelivery) Body() []byte {
	return d.delivery.Body
}

func (d *eventDelivery) CorrelationID() string {
	return d.delivery.CorrelationId
}

func (d *eventDelivery) ReplyTo() string {
	return d.delivery.ReplyTo
}

func (d *eventDelivery) Ack() error {
	if d.autoAck {
		return nil
	}
	return d.delivery.Ack(false)
}

func (d *eventDelivery) Nack(requeue bool) error {
	if d.autoAck {
		return nil
	}
	return d.delivery.Nack(false, requeue)
}

func (d *eventDelivery) Reject(requeue bool) error {
	if d.autoAck {
		return nil
	}
	return d.delivery.Reject(requeue)
}

// Reply publishes body straight to the reply queue through the default
// exchange, echoing the request's correlation id.
func (d *eventDelivery) Reply(ctx context.Context, body []byte) error {
	ch, err := d.broker.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", d.delivery.ReplyTo, false, false, amqp091.Publishing{
		ContentType:   d.broker.contentType(),
		CorrelationId: d.delivery.CorrelationId,
		Body:          body,
	})
}

// replyDelivery adapts a delivery from the broker's exclusive reply queue.
// The reply queue is consumed without acknowledgement, so settlement is a
// no-op, and replies to replies are not a thing.
type replyDelivery struct {
	delivery amqp091.Delivery
}

func (d *replyDelivery) Event() string {
	return d.delivery.RoutingKey
}

func (d *replyDelivery) Body() []byte {
	return d.delivery.Body
}

func (d *replyDelivery) CorrelationID() string {
	return d.delivery.CorrelationId
}

func (d *replyDelivery) ReplyTo() string {
	return ""
}

func (d *replyDelivery) Ack() error {
	return nil
}

func (d *replyDelivery) Nack(bool) error {
	return nil
}

func (d *replyDelivery) Reject(bool) error {
	return nil
}

func (d *replyDelivery) Reply(context.Context, []byte) error {
	return nil
}
