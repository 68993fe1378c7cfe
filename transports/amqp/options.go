package amqp

import (
	"log/slog"
	"time"

	"github.com/NekosCloud/spectacles-go/broker"
	"github.com/NekosCloud/spectacles-go/internal/amqpconn"
	"github.com/NekosCloud/spectacles-go/serialization"
)

// ConsumeOptions configures the consumers registered for subscribed events.
type ConsumeOptions struct {
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      map[string]interface{}
}

// AssertOptions configures queue assertion for subscribed events.
type AssertOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       map[string]interface{}
}

// Config holds the full broker configuration.
type Config struct {
	broker.Options
	Consume ConsumeOptions
	Assert  AssertOptions

	retryPolicy amqpconn.RetryPolicy
}

// Option configures the broker.
type Option func(*Config)

func defaultConfig(group string) Config {
	opts := broker.DefaultOptions()
	if group != "" {
		opts.Group = group
	}
	return Config{
		Options: opts,
		Assert:  AssertOptions{Durable: true},
	}
}

// WithSubgroup splits the group into an independent consumer subgroup.
func WithSubgroup(subgroup string) Option {
	return func(c *Config) {
		c.Subgroup = subgroup
	}
}

// WithRPC enables request/response mode.
func WithRPC(enabled bool) Option {
	return func(c *Config) {
		c.RPC = enabled
	}
}

// WithReconnectTimeout sets the fixed delay between reconnect attempts.
func WithReconnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReconnectTimeout = d
	}
}

// WithExponentialBackoff replaces the fixed reconnect delay with a jittered
// exponential backoff. Reconnection still never gives up on its own.
func WithExponentialBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(c *Config) {
		c.retryPolicy = amqpconn.NewExponentialBackoff(initial, max, multiplier)
	}
}

// WithCallTimeout sets the default reply window for Call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CallTimeout = d
	}
}

// WithSerializer replaces the default JSON serializer.
func WithSerializer(s serialization.Serializer) Option {
	return func(c *Config) {
		c.Serializer = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithConsumeOptions sets the transport consumer options.
func WithConsumeOptions(opts ConsumeOptions) Option {
	return func(c *Config) {
		c.Consume = opts
	}
}

// WithAssertOptions sets the queue assertion options.
func WithAssertOptions(opts AssertOptions) Option {
	return func(c *Config) {
		c.Assert = opts
	}
}
