package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/NekosCloud/spectacles-go/broker"
)

// Broker implements broker.Broker over an in-process Hub.
type Broker struct {
	*broker.Dispatcher

	cfg Config
	hub *Hub

	mu        sync.Mutex
	subs      map[string]*subscription // event -> subscription
	connected bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a broker attached to hub. group defaults to "default"
// when empty.
func NewBroker(hub *Hub, group string, options ...Option) *Broker {
	cfg := defaultConfig(group)
	for _, opt := range options {
		opt(&cfg)
	}
	return &Broker{
		Dispatcher: broker.NewDispatcher(cfg.Options),
		cfg:        cfg,
		hub:        hub,
		subs:       make(map[string]*subscription),
	}
}

// Connect marks the broker ready. There is no link to establish in process.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrClosed
	}
	if b.connected {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.connected = true
	return nil
}

// Subscribe registers handler for the given events and ensures a hub
// subscription exists for each.
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler, events ...string) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return broker.ErrNoChannel
	}

	for _, event := range events {
		b.AddHandler(event, handler)
	}
	for _, event := range events {
		b.mu.Lock()
		if _, exists := b.subs[event]; exists {
			b.mu.Unlock()
			continue
		}
		sub := &subscription{
			queue:  broker.QueueName(b.cfg.Group, b.cfg.Subgroup, event),
			event:  event,
			broker: b,
			ch:     make(chan *message, b.cfg.QueueDepth),
			done:   make(chan struct{}),
		}
		b.subs[event] = sub
		b.mu.Unlock()

		b.hub.subscribe(sub)
		go b.drain(sub)
	}
	return nil
}

// drain dispatches one subscription's messages in arrival order.
func (b *Broker) drain(sub *subscription) {
	for {
		select {
		case msg := <-sub.ch:
			_ = b.Dispatch(b.ctx, &ipcDelivery{msg: msg, event: sub.event})
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe detaches the hub subscription for each event. Events without
// one are reported in notFound.
func (b *Broker) Unsubscribe(ctx context.Context, events ...string) ([]string, error) {
	var notFound []string
	for _, event := range events {
		b.mu.Lock()
		sub, exists := b.subs[event]
		if exists {
			delete(b.subs, event)
		}
		b.mu.Unlock()

		b.RemoveHandlers(event)
		if !exists {
			notFound = append(notFound, event)
			continue
		}
		b.hub.unsubscribe(sub)
	}
	return notFound, nil
}

// Publish serializes data and routes it through the hub.
func (b *Broker) Publish(ctx context.Context, event string, data interface{}, opts ...broker.PublishOption) error {
	var popts broker.PublishOptions
	for _, opt := range opts {
		opt(&popts)
	}
	return b.send(event, data, popts.CorrelationID, nil)
}

func (b *Broker) send(event string, data interface{}, correlationID string, origin *Broker) error {
	b.mu.Lock()
	connected := b.connected
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return broker.ErrClosed
	}
	if !connected {
		return broker.ErrNoChannel
	}

	body, err := b.Serializer().Marshal(data)
	if err != nil {
		return err
	}
	queue := broker.QueueName(b.cfg.Group, b.cfg.Subgroup, event)
	msg := &message{event: event, body: body, correlationID: correlationID, origin: origin}
	if !b.hub.publish(queue, msg) {
		b.ReportError(fmt.Errorf("ipc: subscriber queue %q full, message dropped", queue))
	}
	return nil
}

// Call routes data with a fresh correlation id and waits for the reply.
func (b *Broker) Call(ctx context.Context, event string, data interface{}, opts ...broker.CallOption) (interface{}, error) {
	if !b.RPC() {
		return nil, broker.ErrRPCDisabled
	}

	var copts broker.CallOptions
	for _, opt := range opts {
		opt(&copts)
	}
	timeout := b.cfg.CallTimeout
	if copts.Timeout > 0 {
		timeout = copts.Timeout
	} else if copts.Timeout < 0 {
		timeout = 0
	}

	id := uuid.NewString()
	if err := b.Calls().Register(id); err != nil {
		return nil, err
	}
	if err := b.send(event, data, id, b); err != nil {
		b.Calls().Remove(id)
		return nil, err
	}
	return b.Calls().Await(ctx, id, timeout)
}

// Close detaches every subscription from the hub.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	for _, sub := range subs {
		b.hub.unsubscribe(sub)
	}
	b.Shutdown()
	return nil
}

// replyAddress is the placeholder reply destination reported for messages
// published by Call. The hub routes replies straight back to the originating
// broker, so no named destination exists; the placeholder marks the delivery
// as answerable.
const replyAddress = "inproc"

// ipcDelivery adapts one hub message to broker.TransportDelivery. Delivery
// is direct handoff, so settlement is a no-op.
type ipcDelivery struct {
	msg   *message
	event string
}

func (d *ipcDelivery) Event() string {
	return d.event
}

func (d *ipcDelivery) Body() []byte {
	return d.msg.body
}

func (d *ipcDelivery) CorrelationID() string {
	return d.msg.correlationID
}

func (d *ipcDelivery) ReplyTo() string {
	if d.msg.origin != nil {
		return replyAddress
	}
	return ""
}

func (d *ipcDelivery) Ack() error {
	return nil
}

func (d *ipcDelivery) Nack(bool) error {
	return nil
}

func (d *ipcDelivery) Reject(bool) error {
	return nil
}

// Reply hands body straight back to the caller's dispatcher, where the
// correlation id resolves the pending call.
func (d *ipcDelivery) Reply(ctx context.Context, body []byte) error {
	origin := d.msg.origin
	if origin == nil {
		return broker.ErrNoReplyAddress
	}
	return origin.Dispatch(ctx, &ipcReply{correlationID: d.msg.correlationID, body: body})
}

// ipcReply is the reply-side delivery: correlation id plus payload, no
// event, no reply address.
type ipcReply struct {
	correlationID string
	body          []byte
}

func (r *ipcReply) Event() string                       { return "" }
func (r *ipcReply) Body() []byte                        { return r.body }
func (r *ipcReply) CorrelationID() string               { return r.correlationID }
func (r *ipcReply) ReplyTo() string                     { return "" }
func (r *ipcReply) Ack() error                          { return nil }
func (r *ipcReply) Nack(bool) error                     { return nil }
func (r *ipcReply) Reject(bool) error                   { return nil }
func (r *ipcReply) Reply(context.Context, []byte) error { return nil }
