// Package ratelimit provides the per-IP request limiting primitives:
// a short burst window, a daily quota, and the TTL'd key stores that
// back them.
package ratelimit

import (
	"context"
	"time"
)

// Store is a minimal TTL'd counter and flag store. Implementations:
// Redis for deployments, in-memory for local development and tests.
type Store interface {
	// Incr increments a counter, creating it with the given TTL when it
	// does not exist yet. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the counter value and its remaining TTL.
	// ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value int64, remaining time.Duration, ok bool, err error)

	// SetFlag sets a boolean marker with a TTL.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// HasFlag reports whether a marker is set and unexpired.
	HasFlag(ctx context.Context, key string) (bool, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}
