package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NekosCloud/spectacles-go/broker"
	"github.com/NekosCloud/spectacles-go/internal/amqpconn"
)

func TestDefaultConfig(t *testing.T) {
	b := NewBroker("amqp://localhost", "")

	assert.Equal(t, broker.DefaultGroup, b.cfg.Group)
	assert.Empty(t, b.cfg.Subgroup)
	assert.False(t, b.RPC())
	assert.Equal(t, broker.DefaultReconnectTimeout, b.cfg.ReconnectTimeout)
	assert.True(t, b.cfg.Assert.Durable, "event queues are durable by default")
	assert.False(t, b.cfg.Consume.AutoAck)
}

func TestOptionsApply(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway",
		WithSubgroup("shard0"),
		WithRPC(true),
		WithReconnectTimeout(time.Second),
		WithCallTimeout(5*time.Second),
		WithConsumeOptions(ConsumeOptions{AutoAck: true}),
		WithAssertOptions(AssertOptions{Durable: false, AutoDelete: true}),
		WithExponentialBackoff(time.Second, time.Minute, 2),
	)

	assert.Equal(t, "gateway", b.cfg.Group)
	assert.Equal(t, "shard0", b.cfg.Subgroup)
	assert.True(t, b.RPC())
	assert.Equal(t, time.Second, b.cfg.ReconnectTimeout)
	assert.Equal(t, 5*time.Second, b.cfg.CallTimeout)
	assert.True(t, b.cfg.Consume.AutoAck)
	assert.False(t, b.cfg.Assert.Durable)
	require.IsType(t, &amqpconn.ExponentialBackoff{}, b.cfg.retryPolicy)
}

func TestOperationsBeforeConnectFailFast(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway", WithRPC(true))

	assert.ErrorIs(t, b.Publish(context.Background(), "EV", nil), broker.ErrNoChannel)
	assert.ErrorIs(t, b.Subscribe(context.Background(), func(ctx context.Context, d *broker.Delivery) error {
		return nil
	}, "EV"), broker.ErrNoChannel)

	_, err := b.Call(context.Background(), "EV", nil)
	assert.ErrorIs(t, err, broker.ErrNoChannel, "no reply queue exists before connect")
}

func TestCallRequiresRPCMode(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway")
	_, err := b.Call(context.Background(), "EV", nil)
	assert.ErrorIs(t, err, broker.ErrRPCDisabled)
}

func TestUnsubscribeWithoutConsumersReportsNotFound(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway")
	notFound, err := b.Unsubscribe(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, notFound)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway")
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "EV", nil), broker.ErrClosed)
	assert.ErrorIs(t, b.Connect(context.Background()), broker.ErrClosed)
	assert.NoError(t, b.Close(), "closing twice is harmless")
}

func TestContentTypeFollowsSerializer(t *testing.T) {
	b := NewBroker("amqp://localhost", "gateway")
	assert.Equal(t, "application/json", b.contentType())

	b = NewBroker("amqp://localhost", "gateway", WithSerializer(rawSerializer{}))
	assert.Equal(t, "application/octet-stream", b.contentType())
}

// rawSerializer passes bytes through and advertises no content type.
type rawSerializer struct{}

func (rawSerializer) Marshal(v interface{}) ([]byte, error) {
	return v.([]byte), nil
}

func (rawSerializer) Unmarshal(data []byte) (interface{}, error) {
	return data, nil
}
