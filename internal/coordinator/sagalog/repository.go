package sagalog

import (
	"context"
	"sync"
)

// Repository is the port for persisting saga log entries. Save appends; the
// log is never updated in place.
type Repository interface {
	Save(ctx context.Context, entry *SagaLog) error
}

// MemoryRepository keeps entries in process. It backs tests and deployments
// without a saga log file.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []SagaLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(_ context.Context, entry *SagaLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// History returns the entries of one saga in write order.
func (r *MemoryRepository) History(_ context.Context, sagaID string) ([]SagaLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SagaLog
	for _, e := range r.entries {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out, nil
}
