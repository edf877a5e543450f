package model

import "github.com/pkg/errors"

// Validation errors.
var (
	// ErrReservedConfigKey is returned when extra config fields try to override a structural key.
	ErrReservedConfigKey = errors.New("reserved config key")

	// ErrInvalidConfig is returned when a config value has the wrong shape.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidHistoryItem is returned when a history handler returns an unsupported item.
	ErrInvalidHistoryItem = errors.New("history items must be maps or bubbles")

	// ErrInvalidConversation is returned when a conversation list entry is malformed.
	ErrInvalidConversation = errors.New("invalid conversation entry")
)

// State errors.
var (
	// ErrBubbleExists is returned when a bubble id is already registered in a session.
	ErrBubbleExists = errors.New("bubble id already exists")

	// ErrBubbleNotFound is returned when a bubble is not found.
	ErrBubbleNotFound = errors.New("bubble not found")

	// ErrBubbleAlreadySent is returned when a bubble is sent twice.
	ErrBubbleAlreadySent = errors.New("bubble already sent")

	// ErrBubbleDone is returned when content is written to a finished bubble.
	ErrBubbleDone = errors.New("bubble already done")

	// ErrStreamActive is returned when a session already has an attached stream.
	ErrStreamActive = errors.New("stream already active for this session")

	// ErrNoActiveSession is returned when a bubble operation runs without a session scope.
	ErrNoActiveSession = errors.New("no active session context")

	// ErrStreamNotFound is returned when a stream id is unknown.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamClosed is returned when a bubble is changed after the stream it
	// was obtained in has ended.
	ErrStreamClosed = errors.New("stream already closed")
)
