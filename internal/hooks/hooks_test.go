package hooks

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/session"
)

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.MessageHandler())
	assert.Nil(t, r.HistoryHandler())
	assert.Nil(t, r.NewChatHandler())

	var called string
	r.SetMessageHandler(func(ctx context.Context, mc *MessageContext) error {
		called = "first"
		return nil
	})
	r.SetMessageHandler(func(ctx context.Context, mc *MessageContext) error {
		called = "second"
		return nil
	})

	require.NoError(t, r.MessageHandler()(context.Background(), &MessageContext{}))
	assert.Equal(t, "second", called)
}

func TestMessageContext_CreatesBubbles(t *testing.T) {
	sess := session.New("c1")
	mc := &MessageContext{Scope: session.NewScope(sess, nil), ConversationID: "c1", Message: "hi"}

	b, err := mc.Bubble(bubble.Options{ID: "b1"})
	require.NoError(t, err)
	_, err = b.Send()
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Len())
}

func TestNormalizeHistory(t *testing.T) {
	sess := session.New("c1")
	sc := session.NewScope(sess, nil)
	b, err := sc.Bubble(bubble.Options{ID: "handle", Role: bubble.Set("user")})
	require.NoError(t, err)
	require.NoError(t, b.Set("from handle"))

	items := []any{
		map[string]any{"id": "m", "content": "from map"},
		model.JSONBubble{ID: "j", Content: "from struct"},
		&model.JSONBubble{Content: "from pointer"},
		b,
	}

	messages, err := NormalizeHistory(items)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	assert.Equal(t, "m", messages[0].ID)
	assert.Equal(t, model.DefaultRole, messages[0].Role)
	assert.Equal(t, "j", messages[1].ID)
	assert.Equal(t, model.DefaultType, messages[1].Type)
	assert.NotNil(t, messages[1].Config)
	assert.Len(t, messages[2].ID, 32)
	assert.Equal(t, "handle", messages[3].ID)
	assert.Equal(t, "user", messages[3].Role)
	assert.Equal(t, "from handle", messages[3].Content)
}

func TestNormalizeHistory_RejectsUnknownItems(t *testing.T) {
	_, err := NormalizeHistory([]any{"just a string"})
	assert.True(t, errors.Is(err, model.ErrInvalidHistoryItem))

	var nilBubble *session.Bubble
	_, err = NormalizeHistory([]any{nilBubble})
	assert.True(t, errors.Is(err, model.ErrInvalidHistoryItem))

	_, err = NormalizeHistory([]any{map[string]any{"config": 1}})
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestNormalizeHistory_Empty(t *testing.T) {
	messages, err := NormalizeHistory(nil)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}
