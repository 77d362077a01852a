package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.EventID] = append(s.entries[e.EventID], e)
	return nil
}

func (s *MemoryStore) List(_ context.Context, eventID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	got, ok := s.entries[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Entry, len(got))
	copy(out, got)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Events returns the ids of every recorded event, sorted.
func (s *MemoryStore) Events() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
