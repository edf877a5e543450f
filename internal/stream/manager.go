package stream

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/hooks"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/session"
)

// Manager opens streams and keeps the index of active ones for out-of-band
// cancellation.
type Manager struct {
	store    *session.Store
	registry *hooks.Registry
	cfg      Config

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a Manager.
func NewManager(store *session.Store, registry *hooks.Registry, cfg Config) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		cfg:      cfg,
		streams:  make(map[string]*Stream),
	}
}

// Open creates a stream for the request and attaches it to the conversation's
// session. An empty conversation id starts a new conversation. The caller must
// call Serve on the returned stream.
func (m *Manager) Open(req Request) (*Stream, error) {
	conversationID := req.ConversationID
	newConversation := conversationID == ""
	if newConversation {
		conversationID = model.NewID()
	}

	sess := m.store.GetOrCreate(conversationID)
	ch := session.NewChannel()
	if err := sess.Attach(ch); err != nil {
		return nil, err
	}

	st := &Stream{
		id:              model.NewID(),
		conversationID:  conversationID,
		newConversation: newConversation,
		userID:          model.NormalizeUserID(req.UserID),
		message:         req.Message,
		session:         sess,
		channel:         ch,
		registry:        m.registry,
		cfg:             m.cfg,
		reason:          ReasonDone,
	}
	st.onFinish = func() { m.remove(st.id) }

	m.mu.Lock()
	m.streams[st.id] = st
	m.mu.Unlock()

	log.Info().
		Str("component", "stream").
		Str("stream_id", st.id).
		Str("conv_id", conversationID).
		Bool("new_conversation", newConversation).
		Msg("stream opened")

	return st, nil
}

// Get returns the active stream with the given id.
func (m *Manager) Get(streamID string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.streams[streamID]
	return st, ok
}

// Cancel interrupts the active stream with the given id. It returns false
// if the stream is unknown.
func (m *Manager) Cancel(streamID string) bool {
	st, ok := m.Get(streamID)
	if !ok {
		return false
	}
	log.Info().Str("component", "stream").Str("stream_id", streamID).Msg("stream cancelled")
	st.Interrupt(DetailClientCancel)
	return true
}

// Active returns the number of active streams.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

func (m *Manager) remove(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
}
