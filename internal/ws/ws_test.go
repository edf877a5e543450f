package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblekit/backend/internal/bubble"
	"github.com/bubblekit/backend/internal/chat"
	"github.com/bubblekit/backend/internal/hooks"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/stream"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.New(io.Discard)
	m.Run()
}

func setupTestServer(t *testing.T) (*chat.Service, *Service, string) {
	t.Helper()
	cfg := stream.DefaultConfig()
	cfg.HandlerGrace = time.Second
	svc := chat.NewService(hooks.NewRegistry(), nil, cfg)
	wsService := NewService(svc)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = wsService.Handler().HandleConnection(w, r, r.Header.Get("User-Id"))
	}))
	t.Cleanup(func() {
		wsService.Close()
		server.Close()
	})

	return svc, wsService, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"User-Id": []string{"alice"}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until stop returns true and returns everything read.
func readUntil(t *testing.T, conn *websocket.Conn, stop func(model.Event) bool) []model.Event {
	t.Helper()
	var events []model.Event
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev model.Event
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if stop(ev) {
			return events
		}
	}
}

func isTerminal(ev model.Event) bool {
	return ev.IsTerminal()
}

func blockingHandler(cancelled *atomic.Bool) hooks.MessageHandler {
	return func(ctx context.Context, mc *hooks.MessageContext) error {
		<-ctx.Done()
		if cancelled != nil {
			cancelled.Store(true)
		}
		return ctx.Err()
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	svc, _, url := setupTestServer(t)

	var gotUser atomic.Value
	svc.Registry().SetMessageHandler(func(ctx context.Context, mc *hooks.MessageContext) error {
		gotUser.Store(mc.UserID)
		b, err := mc.Bubble(bubble.Options{ID: "reply"})
		if err != nil {
			return err
		}
		if _, err := b.Send(); err != nil {
			return err
		}
		for _, chunk := range []string{"he", "llo"} {
			if err := b.Stream(chunk); err != nil {
				return err
			}
		}
		b.Done()
		return nil
	})

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeStart, Message: "hi"}))

	events := readUntil(t, conn, isTerminal)
	assert.Equal(t, model.EventMeta, events[0].Type)
	assert.Equal(t, model.DoneEvent(stream.DetailNormal), events[len(events)-1])
	assert.Equal(t, "alice", gotUser.Load())

	var content string
	for _, ev := range events {
		if ev.Type == model.EventDelta {
			content += *ev.Content
		}
	}
	assert.Equal(t, "hello", content)

	// The server closes the connection after the terminal event.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestHandler_CancelMessage(t *testing.T) {
	svc, _, url := setupTestServer(t)
	svc.Registry().SetMessageHandler(blockingHandler(nil))

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Message{ConversationID: "c1", Message: "hi"}))

	readUntil(t, conn, func(ev model.Event) bool { return ev.Type == model.EventStarted })
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeCancel}))

	events := readUntil(t, conn, isTerminal)
	assert.Equal(t, model.InterruptedEvent(stream.DetailClientCancel), events[len(events)-1])
}

func TestHandler_PingPong(t *testing.T) {
	svc, _, url := setupTestServer(t)
	svc.Registry().SetMessageHandler(blockingHandler(nil))

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Message{ConversationID: "c1", Message: "hi"}))
	readUntil(t, conn, func(ev model.Event) bool { return ev.Type == model.EventProgress })

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	events := readUntil(t, conn, func(ev model.Event) bool { return ev.Type == model.EventType(MessageTypePong) })
	assert.Len(t, events, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeCancel}))
	readUntil(t, conn, isTerminal)
}

func TestHandler_ClientDisconnectAborts(t *testing.T) {
	svc, _, url := setupTestServer(t)

	var cancelled atomic.Bool
	svc.Registry().SetMessageHandler(blockingHandler(&cancelled))

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Message{ConversationID: "c1", Message: "hi"}))
	readUntil(t, conn, func(ev model.Event) bool { return ev.Type == model.EventStarted })
	require.Equal(t, 1, svc.ActiveStreams())

	conn.Close()

	require.Eventually(t, func() bool {
		return svc.ActiveStreams() == 0 && cancelled.Load()
	}, 5*time.Second, 10*time.Millisecond)

	sess, ok := svc.Sessions().Get("c1")
	require.True(t, ok)
	assert.False(t, sess.Streaming())
}

func TestHandler_StreamAlreadyActive(t *testing.T) {
	svc, _, url := setupTestServer(t)

	busy, err := svc.OpenStream(stream.Request{ConversationID: "c1"})
	require.NoError(t, err)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Message{ConversationID: "c1", Message: "hi"}))

	events := readUntil(t, conn, isTerminal)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)
	assert.Equal(t, "stream_active", events[0].Reason)

	require.True(t, svc.CancelStream(busy.ID()))
	require.NoError(t, busy.Serve(context.Background(), stream.WriterFunc(func(model.Event) error { return nil })))
}

func TestHandler_InvalidStart(t *testing.T) {
	_, _, url := setupTestServer(t)

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cancel"}`)))

	events := readUntil(t, conn, isTerminal)
	assert.Equal(t, "bad_request", events[0].Reason)
}

func TestHub_CloseClosesClients(t *testing.T) {
	hub := NewHub()
	a := NewClient(nil)
	b := NewClient(nil)
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.ErrorIs(t, a.Send([]byte("x")), ErrClientClosed)
}

// *For any* sequence of events written to a client, the queued frames keep
// the write order.
func TestClientWriteOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("frames are queued in write order", prop.ForAll(
		func(chunks []string) bool {
			client := NewClient(nil)
			for _, chunk := range chunks {
				if err := client.WriteEvent(model.DeltaEvent("b", chunk)); err != nil {
					return false
				}
			}
			for _, chunk := range chunks {
				frame := <-client.SendChan()
				want, err := json.Marshal(model.DeltaEvent("b", chunk))
				if err != nil || string(frame) != string(want) {
					return false
				}
			}
			return len(client.SendChan()) == 0
		},
		gen.SliceOfN(50, gen.AnyString()),
	))

	properties.TestingRun(t)
}
