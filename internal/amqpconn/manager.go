package amqpconn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StateListener receives connection state change notifications. OnConnected
// is invoked synchronously so listeners can rebuild channels and topology
// before operations resume.
type StateListener interface {
	OnConnected(conn *amqp.Connection)
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// Manager owns the AMQP connection and its reconnect loop.
type Manager struct {
	url      string
	external bool
	policy   RetryPolicy
	logger   *slog.Logger
	dial     func(url string) (*amqp.Connection, error)

	mu        sync.RWMutex
	conn      *amqp.Connection
	connected bool

	done      chan struct{}
	closeOnce sync.Once

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRetryPolicy sets the delay schedule between reconnect attempts.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(m *Manager) {
		m.policy = policy
	}
}

// WithReconnectDelay sets a fixed delay between reconnect attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return WithRetryPolicy(FixedDelay{Interval: delay})
}

// New creates a Manager that dials url and redials it on non-fatal loss.
func New(url string, options ...Option) *Manager {
	m := &Manager{
		url:    url,
		policy: FixedDelay{Interval: 10 * time.Second},
		logger: slog.Default(),
		dial:   amqp.Dial,
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// NewWithConnection creates a Manager around an already-established
// connection. Loss of an external connection is terminal: the Manager has no
// URL to redial.
func NewWithConnection(conn *amqp.Connection, options ...Option) *Manager {
	m := New("", options...)
	m.external = true
	m.conn = conn
	return m
}

// AddStateListener registers a connection state listener.
func (m *Manager) AddStateListener(listener StateListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Connect establishes the initial connection. With a URL it retries forever
// at the policy's delay, emitting a disconnect notification per failed
// attempt; only a fatal error, ctx cancellation or Close ends the loop. With
// an external connection it simply adopts it.
func (m *Manager) Connect(ctx context.Context) error {
	if m.external {
		m.mu.Lock()
		conn := m.conn
		m.connected = true
		m.mu.Unlock()

		notify := make(chan *amqp.Error, 1)
		conn.NotifyClose(notify)
		m.notifyConnected(conn)
		go m.watch(notify)
		return nil
	}

	for attempt := 0; ; attempt++ {
		conn, err := m.dial(m.url)
		if err == nil {
			notify := m.adopt(conn)
			m.logger.Info("connected", "url", SanitizeURL(m.url), "attempts", attempt+1)
			m.notifyConnected(conn)
			go m.watch(notify)
			return nil
		}

		if IsFatal(err) {
			return &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(m.url),
				Err:       err,
				Timestamp: time.Now(),
				Attempts:  attempt + 1,
			}
		}

		m.logger.Warn("connection attempt failed", "url", SanitizeURL(m.url), "attempt", attempt+1, "error", err)
		m.notifyDisconnected(err)

		select {
		case <-time.After(m.policy.NextDelay(attempt)):
		case <-ctx.Done():
			return &ConnectionError{Op: "connect", URL: SanitizeURL(m.url), Err: ctx.Err(), Timestamp: time.Now(), Attempts: attempt + 1}
		case <-m.done:
			return ErrManagerClosed
		}
	}
}

// Connection returns the live connection, or ErrNotConnected while the link
// is down.
func (m *Manager) Connection() (*amqp.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected || m.conn == nil || m.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// IsConnected reports whether the link is currently up.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.conn != nil && !m.conn.IsClosed()
}

// Close stops the reconnect loop and closes the connection.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.connected = false
		m.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			err = conn.Close()
		}
	})
	return err
}

// adopt installs conn as the live connection and wires close notification.
func (m *Manager) adopt(conn *amqp.Connection) chan *amqp.Error {
	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.mu.Unlock()

	notify := make(chan *amqp.Error, 1)
	conn.NotifyClose(notify)
	return notify
}

// watch waits for the connection to close and triggers reconnection for
// non-fatal causes.
func (m *Manager) watch(notify chan *amqp.Error) {
	select {
	case amqpErr, ok := <-notify:
		var cause error
		if ok && amqpErr != nil {
			cause = amqpErr
		}

		m.mu.Lock()
		m.conn = nil
		m.connected = false
		m.mu.Unlock()

		select {
		case <-m.done:
			// Caller-initiated shutdown, not a connection loss.
			return
		default:
		}

		if cause != nil {
			m.logger.Error("connection closed", "error", cause)
		}
		m.notifyDisconnected(cause)

		if m.external {
			m.logger.Error("caller-supplied connection lost, not reconnecting", "error", cause)
			return
		}
		if cause != nil && IsFatal(cause) {
			m.logger.Error("fatal connection error, not reconnecting", "error", cause)
			return
		}
		m.reconnect()

	case <-m.done:
	}
}

// reconnect redials forever at the policy's delay until success, a fatal
// error or Close.
func (m *Manager) reconnect() {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		m.notifyReconnecting(attempt + 1)

		select {
		case <-time.After(m.policy.NextDelay(attempt)):
		case <-m.done:
			return
		}

		conn, err := m.dial(m.url)
		if err != nil {
			if IsFatal(err) {
				m.logger.Error("fatal error while reconnecting", "error", err, "attempt", attempt+1)
				m.notifyDisconnected(err)
				return
			}
			m.logger.Warn("reconnect attempt failed", "error", err, "attempt", attempt+1)
			m.notifyDisconnected(err)
			continue
		}

		notify := m.adopt(conn)
		m.logger.Info("reconnected", "attempts", attempt+1, "duration", time.Since(start))
		m.notifyConnected(conn)
		go m.watch(notify)
		return
	}
}

func (m *Manager) notifyConnected(conn *amqp.Connection) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, listener := range m.listeners {
		listener.OnConnected(conn)
	}
}

func (m *Manager) notifyDisconnected(err error) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, listener := range m.listeners {
		listener.OnDisconnected(err)
	}
}

func (m *Manager) notifyReconnecting(attempt int) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, listener := range m.listeners {
		listener.OnReconnecting(attempt)
	}
}
