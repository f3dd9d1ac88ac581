package codes

import (
	"context"
	"sync"
	"time"
)

type pairKey struct {
	identifier string
	channel    string
}

// MemoryStore keeps entries in process memory. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[pairKey]*Entry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[pairKey]*Entry)}
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(entry.CreatedAt)
	s.entries[pairKey{entry.Identifier, entry.Channel}] = &entry
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, identifier, channel string, now time.Time, match func(string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[pairKey{identifier, channel}]
	if !ok || !entry.Valid(now) || !match(entry.Code) {
		return ErrNoEntry
	}

	entry.Used = true
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeLocked(now), nil
}

// Len returns the number of stored entries, used or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *MemoryStore) purgeLocked(now time.Time) int {
	removed := 0
	for key, entry := range s.entries {
		if !entry.Valid(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
