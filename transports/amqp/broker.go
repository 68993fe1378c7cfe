package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/NekosCloud/spectacles-go/broker"
	"github.com/NekosCloud/spectacles-go/internal/amqpconn"
)

// Broker implements broker.Broker against an AMQP server.
type Broker struct {
	*broker.Dispatcher

	cfg     Config
	conn    *amqp091.Connection // caller-supplied, nil when dialing by URL
	url     string
	manager *amqpconn.Manager

	mu         sync.Mutex
	ch         *amqp091.Channel
	replyQueue string
	consumers  map[string]string // event -> consumer tag
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a broker that dials url on Connect. group defaults to
// "default" when empty.
func NewBroker(url, group string, options ...Option) *Broker {
	cfg := defaultConfig(group)
	for _, opt := range options {
		opt(&cfg)
	}
	return &Broker{
		Dispatcher: broker.NewDispatcher(cfg.Options),
		cfg:        cfg,
		url:        url,
		consumers:  make(map[string]string),
	}
}

// NewBrokerWithConnection creates a broker around an already-established
// connection. Loss of the connection is terminal; the broker has nothing to
// redial.
func NewBrokerWithConnection(conn *amqp091.Connection, group string, options ...Option) *Broker {
	b := NewBroker("", group, options...)
	b.conn = conn
	return b
}

// Connect establishes the connection, opens the channel and asserts the
// exchange and (in RPC mode) the reply queue. With a URL it retries forever
// at the configured delay; each failed attempt emits a close notification.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	if b.manager != nil {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	policy := b.cfg.retryPolicy
	if policy == nil {
		policy = amqpconn.FixedDelay{Interval: b.cfg.ReconnectTimeout}
	}
	managerOpts := []amqpconn.Option{
		amqpconn.WithLogger(b.Logger()),
		amqpconn.WithRetryPolicy(policy),
	}
	if b.conn != nil {
		b.manager = amqpconn.NewWithConnection(b.conn, managerOpts...)
	} else {
		b.manager = amqpconn.New(b.url, managerOpts...)
	}
	manager := b.manager
	b.mu.Unlock()

	manager.AddStateListener(b)
	return manager.Connect(ctx)
}

// OnConnected implements amqpconn.StateListener. It rebuilds the channel,
// topology and consumers after every successful (re)connect.
func (b *Broker) OnConnected(conn *amqp091.Connection) {
	if err := b.setup(conn); err != nil {
		b.Logger().Error("channel setup failed", "error", err)
		b.ReportError(err)
	}
}

// OnDisconnected implements amqpconn.StateListener. The channel is dropped,
// outstanding calls fail immediately with the close cause, and the loss is
// reported on the close notification channel. Operations issued before the
// next successful reconnect fail fast with ErrNoChannel.
func (b *Broker) OnDisconnected(err error) {
	b.mu.Lock()
	b.ch = nil
	b.replyQueue = ""
	b.consumers = make(map[string]string)
	b.mu.Unlock()

	cause := broker.ErrConnectionLost
	if err != nil {
		cause = fmt.Errorf("%w: %v", broker.ErrConnectionLost, err)
	}
	b.Calls().FailAll(cause)
	b.ReportClose(err)
}

// OnReconnecting implements amqpconn.StateListener.
func (b *Broker) OnReconnecting(attempt int) {
	b.Logger().Debug("reconnecting", "attempt", attempt, "group", b.cfg.Group)
}

// setup opens a fresh channel, asserts the direct exchange, recreates the
// reply queue in RPC mode and re-establishes consumers for every subscribed
// event.
func (b *Broker) setup(conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(b.cfg.Group, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("amqp: assert exchange %q: %w", b.cfg.Group, err)
	}

	var replyQueue string
	if b.RPC() {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			ch.Close()
			return fmt.Errorf("amqp: assert reply queue: %w", err)
		}
		replyQueue = q.Name

		replies, err := ch.Consume(q.Name, "", true, true, false, false, nil)
		if err != nil {
			ch.Close()
			return fmt.Errorf("amqp: consume reply queue: %w", err)
		}
		go b.consumeReplies(replies)
	}

	b.mu.Lock()
	b.ch = ch
	b.replyQueue = replyQueue
	b.consumers = make(map[string]string)
	b.mu.Unlock()

	for _, event := range b.Events() {
		if err := b.consumeEvent(event); err != nil {
			return fmt.Errorf("amqp: restore consumer for %q: %w", event, err)
		}
	}
	return nil
}

// Subscribe registers handler for the given events and starts one consumer
// per event. Events that already have a consumer only gain the handler.
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler, events ...string) error {
	if _, err := b.channel(); err != nil {
		return err
	}
	for _, event := range events {
		b.AddHandler(event, handler)
	}
	for _, event := range events {
		if err := b.consumeEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// consumeEvent asserts the event's queue, binds it and registers a consumer.
// A second call for the same event is a no-op.
func (b *Broker) consumeEvent(event string) error {
	b.mu.Lock()
	if _, exists := b.consumers[event]; exists {
		b.mu.Unlock()
		return nil
	}
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return broker.ErrNoChannel
	}

	queue, err := b.createQueue(ch, event)
	if err != nil {
		return err
	}

	consume := b.cfg.Consume
	tag := fmt.Sprintf("%s.%s", queue, uuid.NewString()[:8])
	deliveries, err := ch.Consume(queue, tag, consume.AutoAck, consume.Exclusive, consume.NoLocal, consume.NoWait, amqp091.Table(consume.Args))
	if err != nil {
		return fmt.Errorf("amqp: consume %q: %w", queue, err)
	}

	b.mu.Lock()
	b.consumers[event] = tag
	b.mu.Unlock()

	b.Logger().Info("subscribed", "event", event, "queue", queue, "consumerTag", tag)
	go b.consumeLoop(event, deliveries, consume.AutoAck)
	return nil
}

// createQueue asserts the deterministic queue for event and binds it to the
// group exchange with the event name as routing key.
func (b *Broker) createQueue(ch *amqp091.Channel, event string) (string, error) {
	name := broker.QueueName(b.cfg.Group, b.cfg.Subgroup, event)
	assert := b.cfg.Assert
	if _, err := ch.QueueDeclare(name, assert.Durable, assert.AutoDelete, assert.Exclusive, assert.NoWait, amqp091.Table(assert.Args)); err != nil {
		return "", fmt.Errorf("amqp: assert queue %q: %w", name, err)
	}
	if err := ch.QueueBind(name, event, b.cfg.Group, false, nil); err != nil {
		return "", fmt.Errorf("amqp: bind queue %q: %w", name, err)
	}
	return name, nil
}

// consumeLoop dispatches deliveries in arrival order until the consumer is
// cancelled or the channel closes.
func (b *Broker) consumeLoop(event string, deliveries <-chan amqp091.Delivery, autoAck bool) {
	for delivery := range deliveries {
		_ = b.Dispatch(b.ctx, &eventDelivery{
			delivery: delivery,
			event:    event,
			broker:   b,
			autoAck:  autoAck,
		})
	}
}

// consumeReplies feeds the exclusive reply queue into dispatch, where
// correlation ids resolve pending calls and everything else is dropped.
func (b *Broker) consumeReplies(deliveries <-chan amqp091.Delivery) {
	for delivery := range deliveries {
		_ = b.Dispatch(b.ctx, &replyDelivery{delivery: delivery})
	}
}

// Unsubscribe cancels the consumers for the given events. Events without an
// active consumer are returned in notFound rather than failing the call.
func (b *Broker) Unsubscribe(ctx context.Context, events ...string) ([]string, error) {
	var notFound []string
	for _, event := range events {
		b.mu.Lock()
		tag, exists := b.consumers[event]
		if exists {
			delete(b.consumers, event)
		}
		ch := b.ch
		b.mu.Unlock()

		b.RemoveHandlers(event)
		if !exists {
			notFound = append(notFound, event)
			continue
		}
		if ch == nil {
			continue
		}
		if err := ch.Cancel(tag, false); err != nil {
			return notFound, fmt.Errorf("amqp: cancel consumer for %q: %w", event, err)
		}
	}
	return notFound, nil
}

// Publish serializes data and sends it to the group exchange under the event
// routing key. Delivery is fire-and-forget: only precondition and encoding
// failures are returned.
func (b *Broker) Publish(ctx context.Context, event string, data interface{}, opts ...broker.PublishOption) error {
	var popts broker.PublishOptions
	for _, opt := range opts {
		opt(&popts)
	}

	ch, err := b.channel()
	if err != nil {
		return err
	}
	body, err := b.Serializer().Marshal(data)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, b.cfg.Group, event, false, false, amqp091.Publishing{
		ContentType:   b.contentType(),
		Body:          body,
		CorrelationId: popts.CorrelationID,
		ReplyTo:       popts.ReplyTo,
		Headers:       amqp091.Table(popts.Headers),
		Timestamp:     time.Now(),
	})
}

// Call publishes data with a fresh correlation id and the reply queue
// attached, then waits for the matching reply on the correlation table.
func (b *Broker) Call(ctx context.Context, event string, data interface{}, opts ...broker.CallOption) (interface{}, error) {
	if !b.RPC() {
		return nil, broker.ErrRPCDisabled
	}

	b.mu.Lock()
	replyQueue := b.replyQueue
	b.mu.Unlock()
	if replyQueue == "" {
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
	if err := b.Publish(ctx, event, data, broker.WithCorrelationID(id), broker.WithReplyTo(replyQueue)); err != nil {
		b.Calls().Remove(id)
		return nil, err
	}
	return b.Calls().Await(ctx, id, timeout)
}

// Close shuts the broker down: consumers stop, outstanding calls fail, the
// connection closes and the notification channels are closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	manager := b.manager
	b.ch = nil
	b.consumers = make(map[string]string)
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	var err error
	if manager != nil {
		err = manager.Close()
	}
	b.Shutdown()
	return err
}

// channel returns the live channel, failing immediately when connect has not
// completed or the connection is down.
func (b *Broker) channel() (*amqp091.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, broker.ErrClosed
	}
	if b.ch == nil {
		return nil, broker.ErrNoChannel
	}
	return b.ch, nil
}

func (b *Broker) contentType() string {
	if ct, ok := b.Serializer().(interface{ ContentType() string }); ok {
		return ct.ContentType()
	}
	return "application/octet-stream"
}
