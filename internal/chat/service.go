// Package chat is the transport-independent surface of the backend: history,
// conversation lists and streams.
package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/conversation"
	"github.com/bubblekit/backend/internal/hooks"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/session"
	"github.com/bubblekit/backend/internal/stream"
)

// Service wires the session store, handler registry, stream manager and
// conversation list store together.
type Service struct {
	sessions      *session.Store
	registry      *hooks.Registry
	streams       *stream.Manager
	conversations conversation.Store
}

// NewService creates a Service. A nil conversation store falls back to memory.
func NewService(registry *hooks.Registry, conversations conversation.Store, cfg stream.Config) *Service {
	if conversations == nil {
		conversations = conversation.NewMemoryStore()
	}
	sessions := session.NewStore()
	return &Service{
		sessions:      sessions,
		registry:      registry,
		streams:       stream.NewManager(sessions, registry, cfg),
		conversations: conversations,
	}
}

// Registry returns the handler registry.
func (s *Service) Registry() *hooks.Registry {
	return s.registry
}

// Sessions returns the session store.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// ListConversations returns the user's conversation list.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]conversation.Entry, error) {
	return s.conversations.List(ctx, model.NormalizeUserID(userID))
}

// SetConversationList validates items and stores them as the user's list.
func (s *Service) SetConversationList(ctx context.Context, userID string, items []map[string]any) error {
	entries := make([]conversation.Entry, 0, len(items))
	for i, item := range items {
		entry, err := conversation.EntryFromMap(item)
		if err != nil {
			return errors.Wrapf(err, "conversation list item %d", i)
		}
		entries = append(entries, entry)
	}
	return s.conversations.Replace(ctx, model.NormalizeUserID(userID), entries)
}

// ClearConversation removes every bubble of the conversation's session.
func (s *Service) ClearConversation(conversationID string) {
	if sess, ok := s.sessions.Get(conversationID); ok {
		sess.Clear()
	}
}

// History returns the conversation's messages. Without a history handler the
// result is empty; a handler returning nil yields the session's own bubbles.
func (s *Service) History(ctx context.Context, conversationID, userID string) ([]model.JSONBubble, error) {
	sess := s.sessions.GetOrCreate(conversationID)

	handler := s.registry.HistoryHandler()
	if handler == nil {
		return []model.JSONBubble{}, nil
	}

	hc := &hooks.HistoryContext{
		Scope:          session.NewScope(sess, nil),
		ConversationID: conversationID,
		UserID:         model.NormalizeUserID(userID),
	}
	items, err := handler(ctx, hc)
	if err != nil {
		return nil, errors.Wrapf(err, "history handler for conversation %s", conversationID)
	}
	if items == nil {
		return sess.ExportMessages(), nil
	}
	return hooks.NormalizeHistory(items)
}

// OpenStream opens a stream for the request. The caller must serve it.
func (s *Service) OpenStream(req stream.Request) (*stream.Stream, error) {
	st, err := s.streams.Open(req)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CancelStream interrupts an active stream. It returns false for an unknown id.
func (s *Service) CancelStream(streamID string) bool {
	ok := s.streams.Cancel(streamID)
	if !ok {
		log.Debug().Str("component", "chat").Str("stream_id", streamID).Msg("cancel for unknown stream")
	}
	return ok
}

// ActiveStreams returns the number of streams being served.
func (s *Service) ActiveStreams() int {
	return s.streams.Active()
}
