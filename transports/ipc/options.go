package ipc

import (
	"log/slog"
	"time"

	"github.com/NekosCloud/spectacles-go/broker"
	"github.com/NekosCloud/spectacles-go/serialization"
)

// Config holds the broker configuration.
type Config struct {
	broker.Options

	// QueueDepth is the buffer of each subscription's delivery channel.
	// Publishing to a full subscription drops the message and reports it on
	// the error channel rather than blocking the publisher.
	QueueDepth int
}

// Option configures the broker.
type Option func(*Config)

func defaultConfig(group string) Config {
	opts := broker.DefaultOptions()
	if group != "" {
		opts.Group = group
	}
	return Config{Options: opts, QueueDepth: 256}
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

// WithQueueDepth sets the per-subscription delivery buffer.
func WithQueueDepth(depth int) Option {
	return func(c *Config) {
		if depth > 0 {
			c.QueueDepth = depth
		}
	}
}
