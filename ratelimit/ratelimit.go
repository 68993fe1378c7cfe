// Package ratelimit provides the cooperative-polling rate-limit mutex used
// by HTTP clients sharing a budget of requests per route.
//
// A Mutex serializes access per route against a pluggable Store: Claim polls
// the store's timeout for the route until a slot is free or the context is
// cancelled, and Set records the window the remote API reported. The
// LocalStore keeps windows in process; the RedisStore shares them across
// processes.
package ratelimit

import (
	"context"
	"time"
)

// Limits describes one rate-limit window as reported by the remote API.
type Limits struct {
	// Limit is the total number of slots per window.
	Limit int

	// Remaining is the number of slots left in the current window.
	Remaining int

	// Reset is the time until the window resets.
	Reset time.Duration
}

// Store tracks rate-limit windows per route.
type Store interface {
	// GetTimeout claims a slot for route. It returns zero when a slot was
	// free, or the remaining wait until the route's window resets.
	GetTimeout(ctx context.Context, route string) (time.Duration, error)

	// Set records the window the remote API reported for route.
	Set(ctx context.Context, route string, l Limits) error
}

// Mutex gates requests on a Store's per-route windows.
type Mutex struct {
	store Store
}

// NewMutex creates a Mutex over store.
func NewMutex(store Store) *Mutex {
	return &Mutex{store: store}
}

// Claim blocks until a slot is free for route or ctx is cancelled. Claiming
// is cooperative polling, not a remote lock: the store says how long to
// wait, the caller sleeps that long and asks again.
func (m *Mutex) Claim(ctx context.Context, route string) error {
	for {
		wait, err := m.store.GetTimeout(ctx, route)
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Set records the window the remote API reported for route.
func (m *Mutex) Set(ctx context.Context, route string, l Limits) error {
	return m.store.Set(ctx, route, l)
}
