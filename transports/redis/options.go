package redis

import (
	"log/slog"
	"time"

	"github.com/NekosCloud/spectacles-go/broker"
	"github.com/NekosCloud/spectacles-go/serialization"
)

// Config holds the broker configuration.
type Config struct {
	broker.Options
}

// Option configures the broker.
type Option func(*Config)

func defaultConfig(group string) Config {
	opts := broker.DefaultOptions()
	if group != "" {
		opts.Group = group
	}
	return Config{Options: opts}
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
