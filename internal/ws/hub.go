package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/model"
)

// MessageType represents the type of a client WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeStart  MessageType = "start"
	MessageTypeCancel MessageType = "cancel"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types. Stream events are sent as they are.
	MessageTypePong MessageType = "pong"
)

// Message represents a control message exchanged over the WebSocket.
type Message struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// ErrClientClosed is returned when sending to a closed client.
var ErrClientClosed = errors.New("websocket client closed")

// Client represents a WebSocket client connection.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	finished chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Send queues a frame for the write pump. It blocks while the buffer is full.
func (c *Client) Send(data []byte) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// SendJSON marshals v and queues it.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal websocket message")
	}
	return c.Send(data)
}

// WriteEvent queues a stream event, one event per frame.
func (c *Client) WriteEvent(event model.Event) error {
	return c.SendJSON(event)
}

// Close stops accepting frames. The write pump flushes what is queued, then
// closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Finished is closed once the write pump has exited.
func (c *Client) Finished() <-chan struct{} {
	return c.finished
}

// Hub tracks live stream connections so they can be closed on shutdown.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
