package broker

import "context"

// Handler consumes one decoded inbound message. Returning a non-nil error
// rejects the message without requeue and reports the error through the
// broker's error notification channel; other handlers registered for the
// same event still run.
type Handler func(ctx context.Context, d *Delivery) error

// Broker is the uniform publish/subscribe + request/response contract
// realized by each transport (AMQP, Redis, IPC).
type Broker interface {
	// Connect establishes the link to the backing system. For transports
	// with a connection lifecycle it blocks until the first successful
	// connection and keeps reconnecting on non-fatal loss afterwards.
	Connect(ctx context.Context) error

	// Subscribe registers handler for the given events and ensures a
	// transport-level consumer exists for each. Creating the consumer is
	// idempotent per event; the handler is registered regardless.
	Subscribe(ctx context.Context, handler Handler, events ...string) error

	// Unsubscribe cancels the transport-level consumer and removes the
	// registered handlers for the given events. Events with no active
	// subscription are returned in notFound rather than treated as errors.
	Unsubscribe(ctx context.Context, events ...string) (notFound []string, err error)

	// Publish serializes data and hands it to the transport for one-way
	// delivery. Delivery is fire-and-forget: failures that occur after the
	// message left the caller surface on the error notification channel.
	Publish(ctx context.Context, event string, data interface{}, opts ...PublishOption) error

	// Call publishes data tagged with a fresh correlation id and a reply
	// destination, then waits for the matching reply. It fails with
	// ErrCallTimeout when the window elapses and ErrCallCancelled when ctx
	// is cancelled first. Requires RPC mode.
	Call(ctx context.Context, event string, data interface{}, opts ...CallOption) (interface{}, error)

	// NotifyError registers ch to receive non-fatal faults (dispatch,
	// deserialization, listener and connection-level errors) and returns it.
	NotifyError(ch chan error) chan error

	// NotifyClose registers ch to receive connection-loss notifications,
	// carrying the causing error, and returns it.
	NotifyClose(ch chan error) chan error

	// Close tears the broker down and releases its transport resources.
	Close() error
}
