package contentcache

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.RWMutex
	caches map[string]map[string]Entry
}

// NewMemory returns an in-process Store. It backs single-instance deployments
// and doubles as the fake for unit tests.
func NewMemory() Store {
	return &memoryStore{caches: make(map[string]map[string]Entry)}
}

func (s *memoryStore) Match(_ context.Context, cache, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.caches[cache]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Put(_ context.Context, cache, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.caches[cache]
	if !ok {
		entries = make(map[string]Entry)
		s.caches[cache] = entries
	}
	entries[key] = cloneEntry(entry)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, cache, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.caches[cache]
	if !ok {
		return false, nil
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, nil
}

func (s *memoryStore) CacheNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	return names, nil
}

func (s *memoryStore) DeleteCache(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	return true, nil
}

func (s *memoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for _, entries := range s.caches {
		for key, entry := range entries {
			if entry.StoredAt.Before(cutoff) {
				delete(entries, key)
				purged++
			}
		}
	}
	return purged, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{
		Status:   in.Status,
		StoredAt: in.StoredAt,
	}
	if len(in.Header) > 0 {
		out.Header = make(http.Header, len(in.Header))
		for k, vs := range in.Header {
			vv := make([]string, len(vs))
			copy(vv, vs)
			out.Header[k] = vv
		}
	}
	if len(in.Body) > 0 {
		out.Body = make([]byte, len(in.Body))
		copy(out.Body, in.Body)
	}
	return out
}
