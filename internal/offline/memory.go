package offline

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu  sync.Mutex
	seq uint64
	ops []PendingOperation
}

// NewMemory returns a volatile Store for tests and cache-less deployments.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Append(_ context.Context, op Operation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.ops = append(s.ops, PendingOperation{ID: s.seq, URL: op.URL, Method: op.Method, Data: op.Data})
	return s.seq, nil
}

func (s *memoryStore) List(context.Context) ([]PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOperation, len(s.ops))
	copy(out, s.ops)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.ops {
		if op.ID == id {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops), nil
}

func (s *memoryStore) Close() error {
	return nil
}
