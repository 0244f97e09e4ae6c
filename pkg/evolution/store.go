package evolution

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTTLUnsupported is returned by CounterStore implementations that cannot
// report the remaining lifetime of a key. AvailableIn then falls back to the
// full configured decay period.
var ErrTTLUnsupported = errors.New("counter store does not support ttl introspection")

// CounterStore is the per-key counter with expiry backing the rate limiter.
// Increment must be atomic and must arm the TTL only on the first write of a
// window.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int, error)
	Get(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// NewCounterStore builds the store selected by cfg.Driver ("memory" by
// default, "redis" for a shared store across processes).
func NewCounterStore(cfg RateLimitConfig) CounterStore {
	if cfg.Driver == "redis" {
		return NewRedisStore(cfg)
	}
	return NewMemoryStore()
}

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is a process-local CounterStore. Windows expire lazily on
// access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: time.Now().Add(ttl)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		delete(s.entries, key)
		return 0, nil
	}
	return remaining, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
