package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	limit     int
	remaining int
	resetAt   time.Time
}

// LocalStore keeps rate-limit windows in process memory. Routes with no
// recorded window are unrestricted.
type LocalStore struct {
	mu     sync.Mutex
	routes map[string]*window
}

// NewLocalStore creates an empty in-process store.
func NewLocalStore() *LocalStore {
	return &LocalStore{routes: make(map[string]*window)}
}

// GetTimeout implements Store.
func (s *LocalStore) GetTimeout(_ context.Context, route string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.routes[route]
	if !exists {
		return 0, nil
	}
	if time.Now().After(w.resetAt) {
		// Window expired; the next Set records the fresh one.
		delete(s.routes, route)
		return 0, nil
	}
	if w.remaining > 0 {
		w.remaining--
		return 0, nil
	}
	return time.Until(w.resetAt), nil
}

// Set implements Store.
func (s *LocalStore) Set(_ context.Context, route string, l Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route] = &window{
		limit:     l.Limit,
		remaining: l.Remaining,
		resetAt:   time.Now().Add(l.Reset),
	}
	return nil
}
