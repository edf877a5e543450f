package session

import "sync"

// Store is the process-wide registry of sessions keyed by conversation id.
// Sessions are created on first reference and never evicted, so a long-lived
// process keeps one Session per conversation id it has seen.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for the conversation, creating it if needed.
func (s *Store) GetOrCreate(conversationID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[conversationID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[conversationID]; ok {
		return sess
	}
	sess = New(conversationID)
	s.sessions[conversationID] = sess
	return sess
}

// Get returns the session for the conversation if it exists.
func (s *Store) Get(conversationID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[conversationID]
	return sess, ok
}

// Len returns the number of sessions in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
