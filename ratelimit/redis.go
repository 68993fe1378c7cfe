package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore shares rate-limit windows across processes through Redis. Each
// route maps to a counter key that expires when its window resets.
type RedisStore struct {
	client *goredis.Client
	prefix string
}

// NewRedisStore creates a store over client. prefix namespaces the keys and
// defaults to "ratelimit".
func NewRedisStore(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(route string) string {
	return fmt.Sprintf("%s:%s", s.prefix, route)
}

// GetTimeout implements Store. The counter is decremented atomically; a
// non-negative result means a slot was free. An exhausted counter reports
// the key's remaining TTL as the wait.
func (s *RedisStore) GetTimeout(ctx context.Context, route string) (time.Duration, error) {
	key := s.key(route)

	remaining, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: decr %q: %w", key, err)
	}
	if remaining >= 0 {
		return 0, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: pttl %q: %w", key, err)
	}
	if ttl <= 0 {
		// No live window behind the key: drop the stale counter.
		s.client.Del(ctx, key)
		return 0, nil
	}
	return ttl, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, route string, l Limits) error {
	if err := s.client.Set(ctx, s.key(route), l.Remaining, l.Reset).Err(); err != nil {
		return fmt.Errorf("ratelimit: set %q: %w", s.key(route), err)
	}
	return nil
}
