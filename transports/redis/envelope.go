package redis

import (
	"context"
	"encoding/json"
)

// envelope wraps every message on the wire. Redis pub/sub messages have no
// properties of their own, so the routing and RPC metadata that AMQP carries
// as message properties lives here instead.
type envelope struct {
	Event         string `json:"event"`
	CorrelationID string `json:"correlationId,omitempty"`
	ReplyTo       string `json:"replyTo,omitempty"`
	Body          []byte `json:"body"`
}

func encodeEnvelope(env envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(payload, &env)
	return env, err
}

// pubsubDelivery adapts one received envelope to broker.TransportDelivery.
// Pub/sub has no acknowledgement, so settlement is a no-op.
type pubsubDelivery struct {
	env    envelope
	event  string
	broker *Broker
}

func (d *pubsubDelivery) Event() string {
	return d.event
}

func (d *pubsubDelivery) Body() []byte {
	return d.env.Body
}

func (d *pubsubDelivery) CorrelationID() string {
	return d.env.CorrelationID
}

func (d *pubsubDelivery) ReplyTo() string {
	return d.env.ReplyTo
}

func (d *pubsubDelivery) Ack() error {
	return nil
}

func (d *pubsubDelivery) Nack(bool) error {
	return nil
}

func (d *pubsubDelivery) Reject(bool) error {
	return nil
}

// Reply publishes body to the envelope's reply channel with the request's
// correlation id echoed.
func (d *pubsubDelivery) Reply(ctx context.Context, body []byte) error {
	payload, err := encodeEnvelope(envelope{
		Event:         d.event,
		CorrelationID: d.env.CorrelationID,
		Body:          body,
	})
	if err != nil {
		return err
	}
	return d.broker.client.Publish(ctx, d.env.ReplyTo, payload).Err()
}
