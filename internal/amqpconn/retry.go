package amqpconn

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy produces the delay before reconnect attempt n (zero-based).
// Policies never terminate the retry loop; only a fatal error or an explicit
// Close stops reconnection.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelay waits the same interval between every attempt. This is the
// default policy.
type FixedDelay struct {
	Interval time.Duration
}

// NextDelay implements RetryPolicy.
func (f FixedDelay) NextDelay(int) time.Duration {
	return f.Interval
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// MaxInterval, with optional ±15% jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates a jittered exponential backoff policy.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// NextDelay implements RetryPolicy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
