package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry is the state kept per (action, identifier) key.
type Entry struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
	Blocked       bool      `json:"blocked"`
	BlockedUntil  time.Time `json:"blocked_until,omitempty"`
	// Strikes counts breaches of a progressive policy.
	Strikes  int       `json:"strikes,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	// ExpiresAt is when the entry no longer influences any decision.
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdateFunc receives the current entry (nil if absent) and returns the
// replacement (nil to delete). It may run more than once when a store
// retries on contention.
type UpdateFunc func(current *Entry) (*Entry, error)

// Store holds rate limit entries. Update must apply fn atomically per key.
type Store interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if e, ok := s.entries[key]; ok {
		current = &e
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = *next
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Cleanup drops entries that expired before now and returns how many were
// removed.
func (s *MemoryStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !e.ExpiresAt.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *MemoryStore) RunCleanup(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(now())
		}
	}
}
