package conversation

import (
	"context"
	"sync"
)

// Store keeps one ordered conversation list per user.
type Store interface {
	// List returns the user's list in stored order. Unknown users get an empty list.
	List(ctx context.Context, userID string) ([]Entry, error)

	// Replace stores entries as the user's whole list.
	Replace(ctx context.Context, userID string, entries []Entry) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string][]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]Entry)}
}

// List returns a copy of the user's list, empty for an unknown user.
func (s *MemoryStore) List(ctx context.Context, userID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, len(s.lists[userID]))
	copy(entries, s.lists[userID])
	return entries, nil
}

// Replace stores a copy of entries as the user's list.
func (s *MemoryStore) Replace(ctx context.Context, userID string, entries []Entry) error {
	stored := make([]Entry, len(entries))
	copy(stored, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[userID] = stored
	return nil
}
