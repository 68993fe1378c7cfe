package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/NekosCloud/spectacles-go/broker"
)

// Broker implements broker.Broker over Redis pub/sub.
type Broker struct {
	*broker.Dispatcher

	cfg    Config
	url    string
	client *goredis.Client

	mu           sync.Mutex
	subs         map[string]*goredis.PubSub // event -> subscription
	replyChannel string
	replySub     *goredis.PubSub
	connected    bool
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a broker that connects to the Redis instance at url on
// Connect. group defaults to "default" when empty.
func NewBroker(url, group string, options ...Option) *Broker {
	cfg := defaultConfig(group)
	for _, opt := range options {
		opt(&cfg)
	}
	return &Broker{
		Dispatcher: broker.NewDispatcher(cfg.Options),
		cfg:        cfg,
		url:        url,
		subs:       make(map[string]*goredis.PubSub),
	}
}

// NewBrokerWithClient creates a broker around an existing go-redis client.
func NewBrokerWithClient(client *goredis.Client, group string, options ...Option) *Broker {
	b := NewBroker("", group, options...)
	b.client = client
	return b
}

// Connect verifies the Redis connection and, in RPC mode, subscribes the
// broker's private reply channel.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.client == nil {
		opts, err := goredis.ParseURL(b.url)
		if err != nil {
			return fmt.Errorf("redis: parse url: %w", err)
		}
		b.client = goredis.NewClient(opts)
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: connect: %w", err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	if b.RPC() {
		replyChannel := fmt.Sprintf("%s:reply:%s", b.cfg.Group, uuid.NewString()[:8])
		sub := b.client.Subscribe(b.ctx, replyChannel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return fmt.Errorf("redis: subscribe reply channel: %w", err)
		}
		b.mu.Lock()
		b.replyChannel = replyChannel
		b.replySub = sub
		b.mu.Unlock()
		go b.receive("", sub)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.Logger().Info("connected to redis", "group", b.cfg.Group)
	return nil
}

// Subscribe registers handler for the given events and ensures a pub/sub
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
		b.mu.Unlock()

		channel := broker.QueueName(b.cfg.Group, b.cfg.Subgroup, event)
		sub := b.client.Subscribe(b.ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return fmt.Errorf("redis: subscribe %q: %w", channel, err)
		}

		b.mu.Lock()
		b.subs[event] = sub
		b.mu.Unlock()

		b.Logger().Info("subscribed", "event", event, "channel", channel)
		go b.receive(event, sub)
	}
	return nil
}

// receive decodes envelopes from one subscription and feeds them to
// dispatch, in arrival order, until the subscription closes.
func (b *Broker) receive(event string, sub *goredis.PubSub) {
	ch := sub.Channel()
	for msg := range ch {
		env, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			b.ReportError(&broker.DispatchError{Event: event, Op: "decode", Err: err, Timestamp: time.Now()})
			continue
		}
		// The reply subscription passes event == "": unmatched replies then
		// find no handlers and are dropped instead of re-entering dispatch
		// under their original event name.
		_ = b.Dispatch(b.ctx, &pubsubDelivery{env: env, event: event, broker: b})
	}
}

// Unsubscribe closes the subscription for each event. Events without one are
// reported in notFound.
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
		if err := sub.Close(); err != nil {
			return notFound, fmt.Errorf("redis: unsubscribe %q: %w", event, err)
		}
	}
	return notFound, nil
}

// Publish wraps data in an envelope and publishes it to the event's channel.
func (b *Broker) Publish(ctx context.Context, event string, data interface{}, opts ...broker.PublishOption) error {
	var popts broker.PublishOptions
	for _, opt := range opts {
		opt(&popts)
	}

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
	payload, err := encodeEnvelope(envelope{
		Event:         event,
		CorrelationID: popts.CorrelationID,
		ReplyTo:       popts.ReplyTo,
		Body:          body,
	})
	if err != nil {
		return err
	}
	channel := broker.QueueName(b.cfg.Group, b.cfg.Subgroup, event)
	return b.client.Publish(ctx, channel, payload).Err()
}

// Call publishes data with a fresh correlation id and the reply channel
// attached, then waits for the matching reply.
func (b *Broker) Call(ctx context.Context, event string, data interface{}, opts ...broker.CallOption) (interface{}, error) {
	if !b.RPC() {
		return nil, broker.ErrRPCDisabled
	}
	b.mu.Lock()
	replyChannel := b.replyChannel
	b.mu.Unlock()
	if replyChannel == "" {
		return nil, broker.ErrNoChannel
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
	if err := b.Publish(ctx, event, data, broker.WithCorrelationID(id), broker.WithReplyTo(replyChannel)); err != nil {
		b.Calls().Remove(id)
		return nil, err
	}
	return b.Calls().Await(ctx, id, timeout)
}

// Close tears down every subscription and the client.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	subs := b.subs
	b.subs = make(map[string]*goredis.PubSub)
	replySub := b.replySub
	b.replySub = nil
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
	if replySub != nil {
		replySub.Close()
	}

	var err error
	if b.client != nil {
		err = b.client.Close()
	}
	b.Shutdown()
	return err
}
