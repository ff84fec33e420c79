package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr increments a counter, setting the TTL when the key is new or has
// lost its expiry.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	value, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return value, fmt.Errorf("ttl %s: %w", key, err)
	}
	if value == 1 || remaining < 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return value, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	return value, nil
}

// Get returns the counter value and its remaining TTL.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("get %s: %w", key, err)
	}

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return value, 0, true, fmt.Errorf("ttl %s: %w", key, err)
	}
	if remaining < 0 {
		remaining = 0
	}

	return value, remaining, true, nil
}

// SetFlag sets a boolean marker with a TTL.
func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}

// HasFlag reports whether a marker is set and unexpired.
func (s *RedisStore) HasFlag(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
