package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/buffer"
	"github.com/bubblekit/backend/internal/model"
)

// setupStreamingScope returns a scope whose session has an attached channel.
func setupStreamingScope(t *testing.T) (*Scope, *Channel) {
	t.Helper()
	sess := New("conv-1")
	ch := NewChannel()
	require.NoError(t, sess.Attach(ch))
	return NewScope(sess, ch), ch
}

// drain pops every queued event without waiting.
func drain(ch *Channel) []model.Event {
	var events []model.Event
	for {
		item, ok := ch.queue.TryPop()
		if !ok {
			return events
		}
		if !item.End {
			events = append(events, item.Event)
		}
	}
}

func types(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestBubble_StreamConcatenatesDeltas(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)

	for _, chunk := range []string{"Hel", "lo", ", world"} {
		require.NoError(t, b.Stream(chunk))
	}
	assert.Equal(t, "Hello, world", b.Content())

	events := drain(ch)
	require.Equal(t, []model.EventType{model.EventConfig, model.EventDelta, model.EventDelta, model.EventDelta}, types(events))

	var joined strings.Builder
	for _, ev := range events[1:] {
		assert.Equal(t, "b1", ev.BubbleID)
		joined.WriteString(*ev.Content)
	}
	assert.Equal(t, "Hello, world", joined.String())
}

func TestBubble_SendEmitsInitialState(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1", Role: bubble.Set("user"), Name: bubble.Set("Me")})
	require.NoError(t, err)
	require.NoError(t, b.Set("prefilled"))
	b.Done()

	assert.Empty(t, drain(ch), "drafts must not emit")
	assert.Equal(t, 0, sc.Session().Len())

	_, err = b.Send()
	require.NoError(t, err)

	events := drain(ch)
	require.Equal(t, []model.EventType{model.EventConfig, model.EventSet, model.EventDone}, types(events))
	assert.Equal(t, map[string]any{"role": "user", "type": "text", "name": "Me"}, events[0].Patch)
	assert.Equal(t, "prefilled", *events[1].Content)
	assert.Equal(t, "b1", events[2].BubbleID)
	assert.False(t, events[2].IsTerminal())
}

func TestBubble_SendTwice(t *testing.T) {
	sc, _ := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)

	_, err = b.Send()
	assert.True(t, errors.Is(err, model.ErrBubbleAlreadySent))
}

func TestBubble_DuplicateID(t *testing.T) {
	sc, _ := setupStreamingScope(t)

	first, err := sc.Bubble(bubble.Options{ID: "same"})
	require.NoError(t, err)
	_, err = first.Send()
	require.NoError(t, err)

	second, err := sc.Bubble(bubble.Options{ID: "same"})
	require.NoError(t, err)
	_, err = second.Send()
	assert.True(t, errors.Is(err, model.ErrBubbleExists))
	assert.Equal(t, 1, sc.Session().Len())
}

func TestBubble_DoneEmitsOnce(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	drain(ch)

	b.Done()
	b.Done()

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDone, events[0].Type)
	assert.True(t, b.IsDone())

	assert.True(t, errors.Is(b.Set("x"), model.ErrBubbleDone))
	assert.True(t, errors.Is(b.Stream("x"), model.ErrBubbleDone))
	assert.Empty(t, drain(ch))
}

func TestBubble_ConfigMergesColors(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1", BubbleBg: bubble.Set("#111")})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	drain(ch)

	require.NoError(t, b.Config(bubble.Options{BubbleText: bubble.Set("#eee"), HeaderBg: bubble.Set("#222")}))

	cfg := b.ConfigData()
	assert.Equal(t, map[string]any{
		"bubble": map[string]any{"bg": "#111", "text": "#eee"},
		"header": map[string]any{"bg": "#222"},
	}, cfg["colors"])

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{
		"colors": map[string]any{
			"bubble": map[string]any{"text": "#eee"},
			"header": map[string]any{"bg": "#222"},
		},
	}, events[0].Patch)
}

func TestBubble_ConfigEmptyPatchDoesNotEmit(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	drain(ch)

	require.NoError(t, b.Config(bubble.Options{BubbleBg: bubble.Set(bubble.ColorAuto)}))
	assert.Empty(t, drain(ch))
}

func TestBubble_ConfigRejectsReservedExtra(t *testing.T) {
	sc, _ := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{})
	require.NoError(t, err)

	for _, key := range []string{"id", "config", "colors"} {
		err := b.Config(bubble.Options{Extra: map[string]any{key: "x"}})
		assert.True(t, errors.Is(err, model.ErrReservedConfigKey), key)
	}

	_, err = sc.Bubble(bubble.Options{Extra: map[string]any{"id": "x"}})
	assert.True(t, errors.Is(err, model.ErrReservedConfigKey))
}

func TestBubble_ConfigAllowedAfterDone(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	b.Done()
	drain(ch)

	require.NoError(t, b.Config(bubble.Options{Collapsible: bubble.Bool(true)}))
	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"collapsible": true, "collapsible_by_default": true}, events[0].Patch)
}

func TestBubble_ConfigRoleTypeNullIgnored(t *testing.T) {
	sc, _ := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{Type: bubble.Set("markdown")})
	require.NoError(t, err)
	require.NoError(t, b.Config(bubble.Options{Role: bubble.Clear(), Type: bubble.Clear()}))

	assert.Equal(t, model.DefaultRole, b.Role())
	assert.Equal(t, "markdown", b.Type())
}

func TestBubble_WithoutStreamStaysLocal(t *testing.T) {
	sess := New("conv-1")
	sc := NewScope(sess, nil)
	assert.False(t, sc.Streaming())

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	require.NoError(t, b.Set("hello"))

	state, err := sess.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "hello", state.Content)
}

func TestBubble_UnboundSendFails(t *testing.T) {
	b := BubbleFromJSON(model.JSONBubble{ID: "x"})
	_, err := b.Send()
	assert.True(t, errors.Is(err, model.ErrNoActiveSession))

	// Unbound handles still mutate locally.
	require.NoError(t, b.Stream("a"))
	assert.Equal(t, "a", b.Content())
}

func TestBubble_ToOpenAI(t *testing.T) {
	b := BubbleFromJSON(model.JSONBubble{Content: "hi"})
	assert.Equal(t, model.OpenAIMessage{Role: "assistant", Content: "hi"}, b.ToOpenAI())
	assert.Len(t, b.ID(), 32)
	assert.Equal(t, model.DefaultType, b.Type())
}

func TestScope_NilScope(t *testing.T) {
	var sc *Scope
	_, err := sc.Bubble(bubble.Options{})
	assert.True(t, errors.Is(err, model.ErrNoActiveSession))
	_, err = sc.Access("x")
	assert.True(t, errors.Is(err, model.ErrNoActiveSession))
	assert.True(t, errors.Is(sc.Clear(), model.ErrNoActiveSession))

	_, err = NewScope(nil, nil).Load(nil)
	assert.True(t, errors.Is(err, model.ErrNoActiveSession))
}

func TestScope_Access(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	_, err := sc.Access("missing")
	assert.True(t, errors.Is(err, model.ErrBubbleNotFound))

	b, err := sc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	drain(ch)

	again, err := sc.Access("b1")
	require.NoError(t, err)
	assert.True(t, again.IsSent())
	require.NoError(t, again.Stream("x"))

	assert.Equal(t, "x", b.Content())
	assert.Equal(t, []model.EventType{model.EventDelta}, types(drain(ch)))
}

func TestScope_Load(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	old, err := sc.Bubble(bubble.Options{ID: "old"})
	require.NoError(t, err)
	_, err = old.Send()
	require.NoError(t, err)
	drain(ch)

	messages, err := sc.Load([]map[string]any{
		{"id": "m1", "role": "user", "content": "hi"},
		{"content": "hello", "config": map[string]any{"name": "Bot"}},
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, model.DefaultRole, messages[1].Role)

	assert.Equal(t, 2, sc.Session().Len())
	assert.Empty(t, sc.Session().PendingBubbles())
	assert.Empty(t, drain(ch), "load must not emit")

	_, err = sc.Access("old")
	assert.True(t, errors.Is(err, model.ErrBubbleNotFound))

	_, err = sc.Load([]map[string]any{{"config": "bad"}})
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestSession_AttachTwice(t *testing.T) {
	sess := New("conv-1")
	require.NoError(t, sess.Attach(NewChannel()))
	assert.True(t, sess.Streaming())

	err := sess.Attach(NewChannel())
	assert.True(t, errors.Is(err, model.ErrStreamActive))

	sess.Detach()
	assert.False(t, sess.Streaming())
	assert.NoError(t, sess.Attach(NewChannel()))
}

func TestSession_FinalizePending(t *testing.T) {
	sc, ch := setupStreamingScope(t)
	sess := sc.Session()

	for _, id := range []string{"a", "b", "c"} {
		b, err := sc.Bubble(bubble.Options{ID: id})
		require.NoError(t, err)
		_, err = b.Send()
		require.NoError(t, err)
		if id == "b" {
			b.Done()
		}
	}
	drain(ch)

	pending := sess.PendingBubbles()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)

	assert.Equal(t, []string{"a", "c"}, sess.FinalizePending())
	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].BubbleID)
	assert.Equal(t, "c", events[1].BubbleID)

	assert.Empty(t, sess.FinalizePending())
	assert.Empty(t, drain(ch))
}

func TestSession_ExportPreservesOrder(t *testing.T) {
	sc, _ := setupStreamingScope(t)

	ids := []string{"z", "a", "m"}
	for _, id := range ids {
		b, err := sc.Bubble(bubble.Options{ID: id})
		require.NoError(t, err)
		_, err = b.Send()
		require.NoError(t, err)
	}

	exported := sc.Session().ExportMessages()
	require.Len(t, exported, 3)
	for i, id := range ids {
		assert.Equal(t, id, exported[i].ID)
		assert.NotNil(t, exported[i].Config)
	}

	sc.Session().Clear()
	assert.Empty(t, sc.Session().ExportMessages())
}

func TestStore_GetOrCreate(t *testing.T) {
	store := NewStore()

	a := store.GetOrCreate("c1")
	b := store.GetOrCreate("c1")
	assert.Same(t, a, b)
	assert.Equal(t, "c1", a.ConversationID())

	_, ok := store.Get("c2")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestChannel_FinishSeals(t *testing.T) {
	ch := NewChannel()
	ch.Emit(model.ProgressEvent("processing"))
	assert.True(t, ch.Finish(model.DoneEvent("normal")))
	assert.False(t, ch.Finish(model.DoneEvent("normal")))
	ch.Emit(model.HeartbeatEvent())

	ctx := context.Background()
	first, err := ch.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.EventProgress, first.Event.Type)

	terminal, err := ch.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, terminal.Event.IsTerminal())

	end, err := ch.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, end.End)

	_, err = ch.Next(ctx, 10*time.Millisecond)
	assert.True(t, errors.Is(err, buffer.ErrTimeout))
}

func TestChannel_ClosedDropsEmits(t *testing.T) {
	ch := NewChannel()
	ch.Close()
	ch.Close()
	assert.True(t, ch.IsClosed())

	ch.Emit(model.HeartbeatEvent())
	ch.End()
	assert.False(t, ch.Finish(model.DoneEvent("normal")))
	assert.Equal(t, 0, ch.Pending())
}

// *For any* chunk sequence, the content equals the concatenation of the
// chunks and one delta per chunk is emitted in order.
func TestBubble_ClosedStreamDoesNotLeakIntoNextStream(t *testing.T) {
	sc, first := setupStreamingScope(t)
	sess := sc.Session()

	old, err := sc.Bubble(bubble.Options{ID: "old"})
	require.NoError(t, err)
	_, err = old.Send()
	require.NoError(t, err)
	draft, err := sc.Bubble(bubble.Options{ID: "draft"})
	require.NoError(t, err)
	drain(first)

	// Tear down the first stream and attach a second one.
	sess.Detach()
	first.Close()
	second := NewChannel()
	require.NoError(t, sess.Attach(second))

	assert.ErrorIs(t, old.Config(bubble.Options{Name: bubble.Set("stale")}), model.ErrStreamClosed)
	assert.ErrorIs(t, old.Stream("late"), model.ErrStreamClosed)
	assert.ErrorIs(t, old.Set("late"), model.ErrStreamClosed)
	old.Done()
	_, err = draft.Send()
	assert.ErrorIs(t, err, model.ErrStreamClosed)
	_, err = sc.Bubble(bubble.Options{})
	assert.ErrorIs(t, err, model.ErrStreamClosed)
	_, err = sc.Access("old")
	assert.ErrorIs(t, err, model.ErrStreamClosed)

	assert.Empty(t, drain(second))
	state, err := sess.Get("old")
	require.NoError(t, err)
	assert.Empty(t, state.Content)
	assert.False(t, state.Done)
	assert.NotContains(t, state.Config, "name")
	assert.Equal(t, 1, sess.Len())

	// A scope of the second stream still works.
	fresh, err := NewScope(sess, second).Access("old")
	require.NoError(t, err)
	require.NoError(t, fresh.Stream("ok"))
	assert.Equal(t, []model.Event{model.DeltaEvent("old", "ok")}, drain(second))
}

func TestBubble_SealedStreamDropsEvents(t *testing.T) {
	sc, ch := setupStreamingScope(t)

	b, err := sc.Bubble(bubble.Options{ID: "b"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	require.True(t, ch.Finish(model.DoneEvent("normal")))
	drain(ch)

	// Until teardown closes the channel, changes still apply but are not sent.
	require.NoError(t, b.Stream("x"))
	assert.Equal(t, "x", b.Content())
	assert.Empty(t, drain(ch))
}

func TestStreamConcatenationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("content is the concatenation of streamed chunks", prop.ForAll(
		func(chunks []string) bool {
			sess := New("p")
			ch := NewChannel()
			if err := sess.Attach(ch); err != nil {
				return false
			}
			b, err := NewScope(sess, ch).Bubble(bubble.Options{ID: "b"})
			if err != nil {
				return false
			}
			if _, err := b.Send(); err != nil {
				return false
			}
			drain(ch)

			for _, c := range chunks {
				if err := b.Stream(c); err != nil {
					return false
				}
			}
			events := drain(ch)
			if len(events) != len(chunks) {
				return false
			}
			for i, ev := range events {
				if ev.Type != model.EventDelta || *ev.Content != chunks[i] {
					return false
				}
			}
			return b.Content() == strings.Join(chunks, "")
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
