package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore implements Store with an in-process map. Used when Redis
// is not configured and as the fail-open fallback.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Incr increments a counter, creating it with the given TTL when new.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		entry = memoryEntry{expiresAt: s.now().Add(ttl)}
	}
	entry.value++
	s.entries[key] = entry
	return entry.value, nil
}

// Get returns the counter value and its remaining TTL.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return 0, 0, false, nil
	}
	remaining := entry.expiresAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return entry.value, remaining, true, nil
}

// SetFlag sets a boolean marker with a TTL.
func (s *MemoryStore) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: 1, expiresAt: s.now().Add(ttl)}
	return nil
}

// HasFlag reports whether a marker is set and unexpired.
func (s *MemoryStore) HasFlag(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.get(key)
	return ok, nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
