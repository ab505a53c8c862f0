package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Entries are kept per identity in admission order.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

// Admit implements Store.
func (s *MemoryStore) Admit(_ context.Context, identity string, now, windowStart time.Time, limit int) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(identity, windowStart)
	count := len(kept)

	var oldest time.Time
	if count > 0 {
		oldest = kept[0]
	}
	if count >= limit {
		return false, count, oldest, nil
	}

	s.entries[identity] = append(kept, now)
	return true, count, oldest, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, identity string, windowStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prune(identity, windowStart)), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identity)
	return nil
}

// prune drops aged-out entries in place and returns the survivors.
// Caller must hold s.mu. Entries are appended in time order, so the first
// in-window index splits the slice.
func (s *MemoryStore) prune(identity string, windowStart time.Time) []time.Time {
	all := s.entries[identity]
	i := 0
	for i < len(all) && !all[i].After(windowStart) {
		i++
	}
	kept := all[i:]
	if len(kept) == 0 {
		delete(s.entries, identity)
		return nil
	}
	if i > 0 {
		s.entries[identity] = kept
	}
	return kept
}
