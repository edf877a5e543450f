package model

// EventType is the type of a stream event.
type EventType string

const (
	EventMeta        EventType = "meta"
	EventStarted     EventType = "started"
	EventProgress    EventType = "progress"
	EventDelta       EventType = "delta"
	EventSet         EventType = "set"
	EventConfig      EventType = "config"
	EventDone        EventType = "done"
	EventInterrupted EventType = "interrupted"
	EventError       EventType = "error"
	EventHeartbeat   EventType = "heartbeat"
)

// Event is one line of the NDJSON stream sent to the client.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversationId,omitempty"`
	StreamID       string         `json:"streamId,omitempty"`
	Stage          string         `json:"stage,omitempty"`
	BubbleID       string         `json:"bubbleId,omitempty"`
	Content        *string        `json:"content,omitempty"`
	Patch          map[string]any `json:"patch,omitempty"`
	Message        string         `json:"message,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// IsTerminal reports whether the event ends a stream.
// A done event is terminal only when it carries no bubble id.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventInterrupted, EventError:
		return true
	case EventDone:
		return e.BubbleID == ""
	}
	return false
}

// MetaEvent announces a conversation id generated by the server.
func MetaEvent(conversationID string) Event {
	return Event{Type: EventMeta, ConversationID: conversationID}
}

// StartedEvent marks the start of a stream.
func StartedEvent(conversationID, streamID string) Event {
	return Event{Type: EventStarted, ConversationID: conversationID, StreamID: streamID}
}

// ProgressEvent reports the stage the stream is in.
func ProgressEvent(stage string) Event {
	return Event{Type: EventProgress, Stage: stage}
}

// DeltaEvent carries one chunk appended to a bubble.
func DeltaEvent(bubbleID, chunk string) Event {
	return Event{Type: EventDelta, BubbleID: bubbleID, Content: &chunk}
}

// SetEvent carries the full replacement content of a bubble.
func SetEvent(bubbleID, content string) Event {
	return Event{Type: EventSet, BubbleID: bubbleID, Content: &content}
}

// ConfigEvent carries the config patch applied to a bubble.
func ConfigEvent(bubbleID string, patch map[string]any) Event {
	return Event{Type: EventConfig, BubbleID: bubbleID, Patch: patch}
}

// BubbleDoneEvent marks one bubble finished.
func BubbleDoneEvent(bubbleID string) Event {
	return Event{Type: EventDone, BubbleID: bubbleID}
}

// DoneEvent is the terminal event of a stream that ended normally.
func DoneEvent(reason string) Event {
	return Event{Type: EventDone, Reason: reason}
}

// InterruptedEvent is the terminal event of a stream cut short.
func InterruptedEvent(reason string) Event {
	return Event{Type: EventInterrupted, Reason: reason}
}

// ErrorEvent is the terminal event of a stream whose handler failed.
func ErrorEvent(message, reason string) Event {
	return Event{Type: EventError, Message: message, Reason: reason}
}

// HeartbeatEvent keeps an idle connection alive.
func HeartbeatEvent() Event {
	return Event{Type: EventHeartbeat}
}
