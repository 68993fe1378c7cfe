package amqpconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener counts state transitions for assertions.
type recordingListener struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	lastErr      error
}

func (l *recordingListener) OnConnected(*amqp.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected++
}

func (l *recordingListener) OnDisconnected(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected++
	l.lastErr = err
}

func (l *recordingListener) OnReconnecting(int) {}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected, l.disconnected
}

func TestManagerDefaults(t *testing.T) {
	m := New("amqp://localhost")
	assert.Equal(t, FixedDelay{Interval: 10 * time.Second}, m.policy)
	assert.NotNil(t, m.logger)
	assert.NotNil(t, m.dial)
	assert.False(t, m.external)
}

func TestManagerOptions(t *testing.T) {
	logger := slog.Default().With("component", "test")
	policy := NewExponentialBackoff(time.Second, time.Minute, 2)

	m := New("amqp://localhost", WithLogger(logger), WithRetryPolicy(policy))
	assert.Same(t, logger, m.logger)
	assert.Same(t, policy, m.policy)

	m = New("amqp://localhost", WithReconnectDelay(time.Second))
	assert.Equal(t, FixedDelay{Interval: time.Second}, m.policy)
}

func TestManagerBeforeConnect(t *testing.T) {
	m := New("amqp://localhost")
	assert.False(t, m.IsConnected())

	_, err := m.Connection()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectStopsOnFatalError(t *testing.T) {
	m := New("amqp://localhost", WithReconnectDelay(time.Millisecond))
	listener := &recordingListener{}
	m.AddStateListener(listener)

	var dials int
	m.dial = func(string) (*amqp.Connection, error) {
		dials++
		return nil, amqp.ErrCredentials
	}

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrCredentials)

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Attempts, "a fatal error must not be retried")
	assert.Equal(t, 1, dials)

	connected, _ := listener.counts()
	assert.Zero(t, connected)
}

func TestConnectRetriesTransientErrorsUntilCancelled(t *testing.T) {
	m := New("amqp://localhost", WithReconnectDelay(time.Millisecond))
	listener := &recordingListener{}
	m.AddStateListener(listener)

	var mu sync.Mutex
	dials := 0
	cause := errors.New("dial tcp: connection refused")
	m.dial = func(string) (*amqp.Connection, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, cause
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	attempts := dials
	mu.Unlock()
	assert.Greater(t, attempts, 1, "transient errors must be retried")

	_, disconnected := listener.counts()
	assert.Equal(t, attempts, disconnected, "every failed attempt notifies listeners")
	assert.ErrorIs(t, listener.lastErr, cause)
}

func TestConnectStopsOnClose(t *testing.T) {
	m := New("amqp://localhost", WithReconnectDelay(time.Hour))
	m.dial = func(string) (*amqp.Connection, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Close()
	}()

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New("amqp://localhost")
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
}
