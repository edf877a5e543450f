package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/model"
)

// Bubble is the mutation handle of one bubble.
//
// A Bubble starts as a draft: changes stay local until Send registers it in
// the session. Once sent, every change is also emitted to the stream the
// bubble was obtained in. Outside a stream, changes go to whatever stream is
// attached to the session, if any.
//
// A bubble obtained in a stream is tied to that stream: once the stream has
// been torn down its changes fail with ErrStreamClosed and never reach a later
// stream of the same conversation.
type Bubble struct {
	mu      sync.Mutex
	state   *bubble.State
	session *Session
	channel *Channel
	sent    bool
}

// BubbleFromJSON restores an unbound draft from a wire record.
func BubbleFromJSON(rec model.JSONBubble) *Bubble {
	if rec.ID == "" {
		rec.ID = model.NewID()
	}
	if rec.Role == "" {
		rec.Role = model.DefaultRole
	}
	if rec.Type == "" {
		rec.Type = model.DefaultType
	}
	return &Bubble{state: bubble.FromJSONBubble(rec, false)}
}

// lock guards the bubble state. Bound bubbles share the session lock so that
// state changes and emitted events stay in the same order.
func (b *Bubble) lock() func() {
	if b.session != nil {
		b.session.mu.Lock()
		return b.session.mu.Unlock
	}
	b.mu.Lock()
	return b.mu.Unlock
}

func (b *Bubble) emit(event model.Event) {
	if !b.sent || b.session == nil {
		return
	}
	if b.channel != nil {
		b.channel.Emit(event)
		return
	}
	b.session.emitLocked(event)
}

// checkOpen fails once the stream the bubble belongs to is closed.
func (b *Bubble) checkOpen(op string) error {
	if b.channel != nil && b.channel.IsClosed() {
		return errors.Wrapf(model.ErrStreamClosed, "%s bubble %s", op, b.state.ID)
	}
	return nil
}

// ID returns the bubble id.
func (b *Bubble) ID() string {
	return b.state.ID
}

// Content returns the accumulated content.
func (b *Bubble) Content() string {
	defer b.lock()()
	return b.state.Content
}

// Role returns the bubble role.
func (b *Bubble) Role() string {
	defer b.lock()()
	return b.state.Role
}

// Type returns the bubble type.
func (b *Bubble) Type() string {
	defer b.lock()()
	return b.state.Type
}

// ConfigData returns a copy of the bubble config.
func (b *Bubble) ConfigData() map[string]any {
	defer b.lock()()
	cfg := model.CloneMap(b.state.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg
}

// IsDone returns true once the bubble is finished.
func (b *Bubble) IsDone() bool {
	defer b.lock()()
	return b.state.Done
}

// IsSent returns true once the bubble is registered in its session.
func (b *Bubble) IsSent() bool {
	defer b.lock()()
	return b.sent
}

// Send registers the bubble in its session and emits its current state:
// a config event, a set event when it has content, and a done event when
// it is already finished.
func (b *Bubble) Send() (*Bubble, error) {
	if b.session == nil {
		return nil, errors.Wrapf(model.ErrNoActiveSession, "send bubble %s", b.state.ID)
	}
	defer b.lock()()

	if b.sent {
		return nil, errors.Wrapf(model.ErrBubbleAlreadySent, "bubble %s", b.state.ID)
	}
	if err := b.checkOpen("send"); err != nil {
		return nil, err
	}
	if err := b.session.addLocked(b.state); err != nil {
		return nil, err
	}
	b.sent = true

	patch := model.CloneMap(b.state.Config)
	if patch == nil {
		patch = map[string]any{}
	}
	patch["role"] = b.state.Role
	patch["type"] = b.state.Type
	b.emit(model.ConfigEvent(b.state.ID, patch))

	if b.state.Content != "" {
		b.emit(model.SetEvent(b.state.ID, b.state.Content))
	}
	if b.state.Done {
		b.emit(model.BubbleDoneEvent(b.state.ID))
	}
	return b, nil
}

// Set replaces the content.
func (b *Bubble) Set(text string) error {
	defer b.lock()()

	if err := b.checkOpen("set"); err != nil {
		return err
	}
	if b.state.Done {
		return errors.Wrapf(model.ErrBubbleDone, "set bubble %s", b.state.ID)
	}
	b.state.Content = text
	b.emit(model.SetEvent(b.state.ID, text))
	return nil
}

// Stream appends a chunk to the content and emits only the chunk.
func (b *Bubble) Stream(chunk string) error {
	defer b.lock()()

	if err := b.checkOpen("stream"); err != nil {
		return err
	}
	if b.state.Done {
		return errors.Wrapf(model.ErrBubbleDone, "stream bubble %s", b.state.ID)
	}
	b.state.Content += chunk
	b.emit(model.DeltaEvent(b.state.ID, chunk))
	return nil
}

// Config applies a config patch. A config event carrying the applied patch is
// emitted when any field was supplied. Config is allowed on finished bubbles.
func (b *Bubble) Config(opts bubble.Options) error {
	if err := bubble.ValidateExtra(opts.Extra, "bubble.Config"); err != nil {
		return err
	}

	patch := bubble.BuildPatch(opts)
	if opts.Role.IsSet() {
		patch["role"] = opts.Role.Value()
	}
	if opts.Type.IsSet() {
		patch["type"] = opts.Type.Value()
	}

	defer b.lock()()
	if err := b.checkOpen("config"); err != nil {
		return err
	}
	applied := b.state.Apply(patch)
	if len(applied) > 0 {
		b.emit(model.ConfigEvent(b.state.ID, applied))
	}
	return nil
}

// Done marks the bubble finished. Only the first call emits a done event.
// It is a no-op once the bubble's stream is closed.
func (b *Bubble) Done() {
	defer b.lock()()

	if b.state.Done || b.checkOpen("done") != nil {
		return
	}
	b.state.Done = true
	b.emit(model.BubbleDoneEvent(b.state.ID))
}

// ToJSONBubble returns the wire record of the bubble.
func (b *Bubble) ToJSONBubble() model.JSONBubble {
	defer b.lock()()
	return b.state.ToJSONBubble()
}

// ToOpenAI returns the bubble as an OpenAI chat message.
func (b *Bubble) ToOpenAI() model.OpenAIMessage {
	defer b.lock()()
	return model.OpenAIMessage{Role: b.state.Role, Content: b.state.Content}
}
