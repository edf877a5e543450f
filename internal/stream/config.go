// Package stream runs the lifecycle of one streamed reply: it launches the
// handlers, feeds their bubble events to a transport and guarantees a single
// terminal event.
package stream

import "time"

// Config holds the stream timing settings.
type Config struct {
	// FirstEventTimeout bounds the first wait on the event queue.
	FirstEventTimeout time.Duration

	// IdleTimeout bounds every later wait on the event queue.
	IdleTimeout time.Duration

	// HeartbeatInterval is the period of heartbeat events.
	HeartbeatInterval time.Duration

	// HandlerGrace is how long teardown waits for a cancelled handler to return.
	HandlerGrace time.Duration
}

// DefaultConfig returns the default stream timings.
func DefaultConfig() Config {
	return Config{
		FirstEventTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		HandlerGrace:      5 * time.Second,
	}
}

// Stream termination reasons.
const (
	ReasonDone        = "done"
	ReasonInterrupted = "interrupted"
	ReasonError       = "error"
)

// Reason details carried by terminal events.
const (
	DetailNormal       = "normal"
	DetailIdleTimeout  = "idle_timeout"
	DetailClientAbort  = "client_abort"
	DetailClientCancel = "client_cancel"
	DetailHandlerError = "handler_error"
)

// StageProcessing is the stage reported by the progress event sent before the handlers run.
const StageProcessing = "processing"

// Request is one inbound message to stream a reply for.
type Request struct {
	// ConversationID is empty for a new conversation.
	ConversationID string
	Message        string
	UserID         string
}
