// Package hooks holds the user-supplied handlers that drive a conversation.
package hooks

import (
	"context"
	"sync"

	"github.com/bubblekit/backend/internal/session"
)

// MessageContext is passed to the message handler of a stream.
type MessageContext struct {
	*session.Scope
	ConversationID string
	UserID         string
	Message        string
}

// HistoryContext is passed to the history handler.
type HistoryContext struct {
	*session.Scope
	ConversationID string
	UserID         string
}

// NewChatContext is passed to the new-chat handler when a stream opens a new conversation.
type NewChatContext struct {
	*session.Scope
	ConversationID string
	UserID         string
}

// MessageHandler handles one user message. ctx is cancelled when the stream
// is interrupted.
type MessageHandler func(ctx context.Context, mc *MessageContext) error

// HistoryHandler returns the history of a conversation. Items may be
// map[string]any, model.JSONBubble, *model.JSONBubble or *session.Bubble.
// A nil result means the session's own bubbles are returned.
type HistoryHandler func(ctx context.Context, hc *HistoryContext) ([]any, error)

// NewChatHandler runs before the message handler on a new conversation.
type NewChatHandler func(ctx context.Context, nc *NewChatContext) error

// Registry stores the current handlers. The last registration wins.
type Registry struct {
	mu      sync.RWMutex
	message MessageHandler
	history HistoryHandler
	newChat NewChatHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetMessageHandler registers the handler run for each non-blank message.
// A later call replaces the earlier handler.
func (r *Registry) SetMessageHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.message = h
}

// SetHistoryHandler registers the handler that supplies conversation history.
func (r *Registry) SetHistoryHandler(h HistoryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = h
}

// SetNewChatHandler registers the handler run when a stream starts a new conversation.
func (r *Registry) SetNewChatHandler(h NewChatHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newChat = h
}

// MessageHandler returns the registered message handler, or nil.
func (r *Registry) MessageHandler() MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.message
}

// HistoryHandler returns the registered history handler, or nil.
func (r *Registry) HistoryHandler() HistoryHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history
}

// NewChatHandler returns the registered new-chat handler, or nil.
func (r *Registry) NewChatHandler() NewChatHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.newChat
}
