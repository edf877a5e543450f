package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamService opens and cancels streams.
type StreamService interface {
	OpenStream(req stream.Request) (*stream.Stream, error)
	CancelStream(streamID string) bool
}

// Handler serves one stream per WebSocket connection. The first client frame
// is the stream request; every stream event is then sent in its own text frame.
type Handler struct {
	hub     *Hub
	streams StreamService
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, streams StreamService) *Handler {
	return &Handler{
		hub:     hub,
		streams: streams,
	}
}

// HandleConnection upgrades the request and serves a stream on it until the
// terminal event is sent or the client goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}

	client := NewClient(conn)
	h.hub.Register(client)
	go h.writePump(client)

	defer func() {
		h.hub.Unregister(client)
		<-client.Finished()
	}()

	req, err := readStart(client)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Msg("invalid stream request")
		_ = client.WriteEvent(model.ErrorEvent(err.Error(), "bad_request"))
		return nil
	}
	req.UserID = userID

	st, err := h.streams.OpenStream(req)
	if err != nil {
		reason := "error"
		if errors.Is(err, model.ErrStreamActive) {
			reason = "stream_active"
		}
		_ = client.WriteEvent(model.ErrorEvent(err.Error(), reason))
		return nil
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readPump(client, st.ID(), cancel)
	}()

	if err := st.Serve(ctx, client); err != nil {
		log.Info().Err(err).Str("component", "ws").Str("stream_id", st.ID()).Msg("stream ended early")
	}

	client.Close()
	<-client.Finished()
	<-readDone
	return nil
}

// readStart reads the stream request frame.
func readStart(client *Client) (stream.Request, error) {
	conn := client.Conn()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return stream.Request{}, errors.Wrap(err, "read stream request")
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return stream.Request{}, errors.Wrap(err, "parse stream request")
	}
	if msg.Type != "" && msg.Type != MessageTypeStart {
		return stream.Request{}, errors.Errorf("expected %q message, got %q", MessageTypeStart, msg.Type)
	}
	return stream.Request{ConversationID: msg.ConversationID, Message: msg.Message}, nil
}

// readPump handles control messages until the connection fails or closes.
// A failed read aborts the stream.
func (h *Handler) readPump(client *Client, streamID string, abort context.CancelFunc) {
	defer abort()

	conn := client.Conn()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("component", "ws").Str("stream_id", streamID).Msg("websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("component", "ws").Msg("failed to unmarshal message")
			continue
		}

		switch msg.Type {
		case MessageTypeCancel:
			h.streams.CancelStream(streamID)
		case MessageTypePing:
			_ = client.SendJSON(Message{Type: MessageTypePong})
		}
	}
}

// writePump pumps queued frames to the WebSocket connection. After the client
// is closed it flushes the queue, sends a close frame and closes the connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	conn := client.Conn()
	defer func() {
		ticker.Stop()
		client.Close()
		conn.Close()
		close(client.finished)
	}()

	write := func(message []byte) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, message) == nil
	}

	for {
		select {
		case message := <-client.SendChan():
			if !write(message) {
				return
			}
		case <-client.done:
			for {
				select {
				case message := <-client.SendChan():
					if !write(message) {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
