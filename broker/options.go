package broker

import (
	"log/slog"
	"time"

	"github.com/NekosCloud/spectacles-go/serialization"
)

const (
	// DefaultGroup is the exchange/namespace used when none is given.
	DefaultGroup = "default"

	// DefaultReconnectTimeout is the delay between reconnect attempts.
	DefaultReconnectTimeout = 10 * time.Second
)

// Options holds the transport-independent construction parameters shared by
// every broker variant. Transports embed Options in their own config and
// expose functional setters for the fields that apply to them.
type Options struct {
	// Group names the exchange / namespace this broker belongs to.
	Group string

	// Subgroup optionally splits a group into independent consumer groups.
	Subgroup string

	// RPC enables request/response mode: a reply destination is set up at
	// connect time and Call becomes available.
	RPC bool

	// ReconnectTimeout is the delay between reconnect attempts after a
	// non-fatal connection loss.
	ReconnectTimeout time.Duration

	// CallTimeout is the default window a Call waits for its reply.
	// Zero means wait until the context is cancelled.
	CallTimeout time.Duration

	// Serializer converts payloads to and from wire bytes.
	Serializer serialization.Serializer

	// Logger receives operational log records.
	Logger *slog.Logger
}

// DefaultOptions returns Options populated with the documented defaults.
func DefaultOptions() Options {
	return Options{
		Group:            DefaultGroup,
		ReconnectTimeout: DefaultReconnectTimeout,
		Serializer:       serialization.NewJSONSerializer(),
		Logger:           slog.Default(),
	}
}

// PublishOptions carries per-publish metadata merged into the outgoing
// transport message.
type PublishOptions struct {
	CorrelationID string
	ReplyTo       string
	Headers       map[string]interface{}
}

// PublishOption configures a single Publish.
type PublishOption func(*PublishOptions)

// WithCorrelationID tags the outgoing message with a correlation id.
func WithCorrelationID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.CorrelationID = id
	}
}

// WithReplyTo sets the destination replies should be sent to.
func WithReplyTo(replyTo string) PublishOption {
	return func(o *PublishOptions) {
		o.ReplyTo = replyTo
	}
}

// WithHeaders merges headers into the outgoing message.
func WithHeaders(headers map[string]interface{}) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]interface{}, len(headers))
		}
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// CallOptions configures a single Call.
type CallOptions struct {
	// Timeout overrides the broker-level CallTimeout for this call.
	// Zero falls back to the broker default; a negative value means wait
	// until the context is cancelled.
	Timeout time.Duration
}

// CallOption configures a single Call.
type CallOption func(*CallOptions)

// WithCallTimeout sets the reply window for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) {
		o.Timeout = d
	}
}
