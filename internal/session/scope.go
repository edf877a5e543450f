package session

import (
	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/model"
)

// Scope is the session (and optional stream channel) a handler works in.
// It is passed explicitly to handlers and is how they create and find bubbles.
type Scope struct {
	session *Session
	channel *Channel
}

// NewScope creates a scope. channel is nil outside of a stream.
func NewScope(sess *Session, channel *Channel) *Scope {
	return &Scope{session: sess, channel: channel}
}

func (sc *Scope) check() error {
	if sc == nil || sc.session == nil {
		return model.ErrNoActiveSession
	}
	if sc.channel != nil && sc.channel.IsClosed() {
		return errors.Wrapf(model.ErrStreamClosed, "conversation %s", sc.session.ConversationID())
	}
	return nil
}

// Session returns the scope's session.
func (sc *Scope) Session() *Session {
	if sc == nil {
		return nil
	}
	return sc.session
}

// Streaming returns true if the scope belongs to a stream.
func (sc *Scope) Streaming() bool {
	return sc != nil && sc.channel != nil
}

// Bubble creates a draft bubble in the scope's session. Role defaults to
// "assistant" and type to "text"; the id defaults to a new random id.
func (sc *Scope) Bubble(opts bubble.Options) (*Bubble, error) {
	if err := sc.check(); err != nil {
		return nil, err
	}
	if err := bubble.ValidateExtra(opts.Extra, "bubble"); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = model.NewID()
	}
	role := model.DefaultRole
	if v, ok := opts.Role.Value().(string); ok {
		role = v
	}
	bubbleType := model.DefaultType
	if v, ok := opts.Type.Value().(string); ok {
		bubbleType = v
	}

	state := bubble.NewState(id, role, bubbleType)
	state.Apply(bubble.BuildPatch(opts))

	return &Bubble{state: state, session: sc.session, channel: sc.channel}, nil
}

// Access returns a handle to a bubble already sent in the scope's session.
func (sc *Scope) Access(id string) (*Bubble, error) {
	if err := sc.check(); err != nil {
		return nil, err
	}
	state, err := sc.session.Get(id)
	if err != nil {
		return nil, err
	}
	return &Bubble{state: state, session: sc.session, channel: sc.channel, sent: true}, nil
}

// Load replaces the session's bubbles with finished bubbles built from items
// and returns their normalized wire records.
func (sc *Scope) Load(items []map[string]any) ([]model.JSONBubble, error) {
	if err := sc.check(); err != nil {
		return nil, err
	}
	sc.session.Clear()

	messages := make([]model.JSONBubble, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, errors.Wrapf(model.ErrInvalidHistoryItem, "item %d is nil", i)
		}
		rec, err := model.JSONBubbleFromMap(item)
		if err != nil {
			return nil, err
		}
		if err := sc.session.Add(bubble.FromJSONBubble(rec, true)); err != nil {
			return nil, err
		}
		messages = append(messages, rec)
	}
	return messages, nil
}

// Clear removes all bubbles from the scope's session.
func (sc *Scope) Clear() error {
	if err := sc.check(); err != nil {
		return err
	}
	sc.session.Clear()
	return nil
}
