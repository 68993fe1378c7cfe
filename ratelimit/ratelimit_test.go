package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreUnknownRouteIsFree(t *testing.T) {
	s := NewLocalStore()
	wait, err := s.GetTimeout(context.Background(), "/channels/1/messages")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestLocalStoreConsumesRemainingThenWaits(t *testing.T) {
	s := NewLocalStore()
	route := "/channels/1/messages"
	require.NoError(t, s.Set(context.Background(), route, Limits{Limit: 5, Remaining: 2, Reset: time.Second}))

	for i := 0; i < 2; i++ {
		wait, err := s.GetTimeout(context.Background(), route)
		require.NoError(t, err)
		assert.Zero(t, wait, "claim %d should be free", i)
	}

	wait, err := s.GetTimeout(context.Background(), route)
	require.NoError(t, err)
	assert.Greater(t, wait, 500*time.Millisecond)
	assert.LessOrEqual(t, wait, time.Second)
}

func TestLocalStoreExpiredWindowIsFree(t *testing.T) {
	s := NewLocalStore()
	route := "/gateway/bot"
	require.NoError(t, s.Set(context.Background(), route, Limits{Limit: 1, Remaining: 0, Reset: -time.Second}))

	wait, err := s.GetTimeout(context.Background(), route)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestMutexClaimWaitsOutTheWindow(t *testing.T) {
	s := NewLocalStore()
	m := NewMutex(s)
	route := "/channels/1/messages"
	require.NoError(t, m.Set(context.Background(), route, Limits{Limit: 1, Remaining: 0, Reset: 50 * time.Millisecond}))

	start := time.Now()
	require.NoError(t, m.Claim(context.Background(), route))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMutexClaimHonoursCancellation(t *testing.T) {
	s := NewLocalStore()
	m := NewMutex(s)
	route := "/channels/1/messages"
	require.NoError(t, m.Set(context.Background(), route, Limits{Limit: 1, Remaining: 0, Reset: time.Minute}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := m.Claim(ctx, route)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingStore struct{ err error }

func (f failingStore) GetTimeout(context.Context, string) (time.Duration, error) { return 0, f.err }
func (f failingStore) Set(context.Context, string, Limits) error                 { return f.err }

func TestMutexSurfacesStoreErrors(t *testing.T) {
	storeErr := errors.New("redis gone")
	m := NewMutex(failingStore{err: storeErr})

	assert.ErrorIs(t, m.Claim(context.Background(), "/route"), storeErr)
	assert.ErrorIs(t, m.Set(context.Background(), "/route", Limits{}), storeErr)
}
