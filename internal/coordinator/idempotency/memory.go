package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	Record
	expiresAt time.Time
}

// MemoryStore keeps reservations in process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if r, ok := s.records[key]; ok && now.Before(r.expiresAt) {
		out := r.Record
		return &out, false, nil
	}
	s.records[key] = &memoryRecord{
		Record:    Record{State: StateInFlight, CreatedAt: now},
		expiresAt: now.Add(ttl),
	}
	return nil, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := now
	if r, ok := s.records[key]; ok {
		created = r.CreatedAt
	}
	s.records[key] = &memoryRecord{
		Record:    Record{State: StateCompleted, Result: append([]byte(nil), result...), CreatedAt: created},
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Cleanup drops expired reservations and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, r := range s.records {
		if !now.Before(r.expiresAt) {
			delete(s.records, k)
			n++
		}
	}
	return n
}
