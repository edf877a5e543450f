// Package session holds per-conversation bubble state, the bubble handle used
// by handlers, and the channel that carries bubble events to a stream.
package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/model"
)

// Session is the bubble registry and stream attachment point of one conversation.
type Session struct {
	conversationID string

	mu      sync.Mutex
	bubbles map[string]*bubble.State
	order   []string
	stream  *Channel
}

// New creates an empty session for the conversation.
func New(conversationID string) *Session {
	return &Session{
		conversationID: conversationID,
		bubbles:        make(map[string]*bubble.State),
	}
}

// ConversationID returns the conversation id of the session.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Attach sets the active stream channel. Only one channel may be attached at a time.
func (s *Session) Attach(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return errors.Wrapf(model.ErrStreamActive, "conversation %s", s.conversationID)
	}
	s.stream = ch
	return nil
}

// Detach clears the active stream channel.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
}

// Streaming returns true if a stream channel is attached.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// emitLocked forwards an event to the attached channel, if any.
// Callers must hold s.mu.
func (s *Session) emitLocked(event model.Event) {
	if s.stream == nil {
		return
	}
	s.stream.Emit(event)
}

// Create registers a new bubble state.
func (s *Session) Create(id, role, bubbleType string) (*bubble.State, error) {
	state := bubble.NewState(id, role, bubbleType)
	if err := s.Add(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Add registers an existing bubble state.
func (s *Session) Add(state *bubble.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(state)
}

func (s *Session) addLocked(state *bubble.State) error {
	if _, ok := s.bubbles[state.ID]; ok {
		return errors.Wrapf(model.ErrBubbleExists, "bubble %s", state.ID)
	}
	s.bubbles[state.ID] = state
	s.order = append(s.order, state.ID)
	return nil
}

// Get returns the bubble state with the given id.
func (s *Session) Get(id string) (*bubble.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.bubbles[id]
	if !ok {
		return nil, errors.Wrapf(model.ErrBubbleNotFound, "bubble %s", id)
	}
	return state, nil
}

// Clear removes all bubbles.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bubbles = make(map[string]*bubble.State)
	s.order = nil
}

// Len returns the number of registered bubbles.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// PendingBubbles returns snapshots of unfinished bubbles in creation order.
func (s *Session) PendingBubbles() []model.JSONBubble {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []model.JSONBubble
	for _, id := range s.order {
		if state := s.bubbles[id]; !state.Done {
			pending = append(pending, state.ToJSONBubble())
		}
	}
	return pending
}

// FinalizePending marks every unfinished bubble done, emits a done event for
// each, and returns their ids in creation order.
func (s *Session) FinalizePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finalized []string
	for _, id := range s.order {
		state := s.bubbles[id]
		if state.Done {
			continue
		}
		state.Done = true
		s.emitLocked(model.BubbleDoneEvent(id))
		finalized = append(finalized, id)
	}
	return finalized
}

// ExportMessages returns the wire records of all bubbles in creation order.
func (s *Session) ExportMessages() []model.JSONBubble {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]model.JSONBubble, 0, len(s.order))
	for _, id := range s.order {
		messages = append(messages, s.bubbles[id].ToJSONBubble())
	}
	return messages
}
