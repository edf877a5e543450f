package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bubblekit/backend/internal/buffer"
	"github.com/bubblekit/backend/internal/hooks"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/session"
)

// Writer delivers events to the client.
type Writer interface {
	WriteEvent(event model.Event) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(event model.Event) error

// WriteEvent calls f(event).
func (f WriterFunc) WriteEvent(event model.Event) error {
	return f(event)
}

// Stream is one live event feed serving one request.
type Stream struct {
	id              string
	conversationID  string
	newConversation bool
	userID          string
	message         string

	session  *session.Session
	channel  *session.Channel
	registry *hooks.Registry
	cfg      Config
	onFinish func()

	mu         sync.Mutex
	reason     string
	detail     string
	errMessage string
	closed     bool
	cancel     context.CancelFunc
}

// ID returns the stream id.
func (s *Stream) ID() string {
	return s.id
}

// ConversationID returns the conversation the stream belongs to.
func (s *Stream) ConversationID() string {
	return s.conversationID
}

// NewConversation returns true if the conversation id was generated for this stream.
func (s *Stream) NewConversation() bool {
	return s.newConversation
}

// Reason returns the current termination reason and its detail.
func (s *Stream) Reason() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.detail
}

// Closed returns true once the terminal event has been queued.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// setReason records why the stream ends. The first non-done reason sticks:
// done may be replaced, and a reason may only refine itself afterwards.
func (s *Stream) setReason(reason, detail, errMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setReasonLocked(reason, detail, errMessage)
}

func (s *Stream) setReasonLocked(reason, detail, errMessage string) {
	if s.closed && s.reason != ReasonDone {
		return
	}
	if s.reason != ReasonDone && s.reason != reason {
		return
	}
	s.reason = reason
	if detail != "" {
		s.detail = detail
	}
	if errMessage != "" {
		s.errMessage = errMessage
	}
}

// Close finalizes pending bubbles and queues the terminal event followed by
// the end marker. It returns false if the stream was already closed.
func (s *Stream) Close(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if reason != "" {
		s.setReasonLocked(reason, "", "")
	}

	if pending := s.session.FinalizePending(); len(pending) > 0 {
		log.Warn().
			Str("component", "stream").
			Str("stream_id", s.id).
			Str("conv_id", s.conversationID).
			Strs("bubble_ids", pending).
			Msg("bubbles were not marked done; finalized automatically")
	}

	s.channel.Finish(s.terminalLocked())
	s.closed = true
	return true
}

func (s *Stream) terminalLocked() model.Event {
	switch s.reason {
	case ReasonError:
		return model.ErrorEvent(orDefault(s.errMessage, "stream error"), orDefault(s.detail, ReasonError))
	case ReasonInterrupted:
		return model.InterruptedEvent(orDefault(s.detail, ReasonInterrupted))
	default:
		return model.DoneEvent(orDefault(s.detail, DetailNormal))
	}
}

// Interrupt ends the stream as interrupted with the given detail and cancels
// the handlers.
func (s *Stream) Interrupt(detail string) {
	s.setReason(ReasonInterrupted, detail, "")
	s.Close(ReasonInterrupted)
	s.cancelHandler()
}

func (s *Stream) cancelHandler() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Serve emits the opening events, runs the handlers and writes every queued
// event to w until the terminal event has been written. Cancelling ctx or a
// failing write is treated as a client abort. Serve always detaches the
// stream from its session before returning.
func (s *Stream) Serve(ctx context.Context, w Writer) error {
	logger := log.With().
		Str("component", "stream").
		Str("stream_id", s.id).
		Str("conv_id", s.conversationID).
		Logger()

	if s.newConversation {
		s.channel.Emit(model.MetaEvent(s.conversationID))
	}
	s.channel.Emit(model.StartedEvent(s.conversationID, s.id))
	s.channel.Emit(model.ProgressEvent(StageProcessing))

	// The handlers outlive a client disconnect until they are cancelled explicitly.
	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())

	s.mu.Lock()
	launch := !s.closed
	if launch {
		s.cancel = cancel
	}
	s.mu.Unlock()

	var g errgroup.Group
	if launch {
		g.Go(func() error {
			s.runHandlers(handlerCtx)
			return nil
		})
		g.Go(func() error {
			s.heartbeat(heartbeatCtx)
			return nil
		})
	} else {
		cancel()
	}

	defer func() {
		stopHeartbeat()
		s.waitHandlers(&g, logger)
		cancel()
		s.session.Detach()
		s.channel.Close()
		if s.onFinish != nil {
			s.onFinish()
		}
		reason, detail := s.Reason()
		logger.Info().Str("reason", reason).Str("detail", detail).Msg("stream finished")
	}()

	firstSeen := false
	for {
		timeout := s.cfg.IdleTimeout
		if !firstSeen {
			timeout = s.cfg.FirstEventTimeout
		}

		item, err := s.channel.Next(ctx, timeout)
		if errors.Is(err, buffer.ErrTimeout) {
			logger.Info().Dur("timeout", timeout).Msg("stream idle, interrupting")
			s.Interrupt(DetailIdleTimeout)
			continue
		}
		if err != nil {
			s.Interrupt(DetailClientAbort)
			return errors.Wrap(err, "stream aborted")
		}

		firstSeen = true
		if item.End {
			if s.Close("") {
				continue
			}
			return nil
		}

		if err := w.WriteEvent(item.Event); err != nil {
			s.Interrupt(DetailClientAbort)
			return errors.Wrap(err, "write event")
		}
	}
}

func (s *Stream) waitHandlers(g *errgroup.Group, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.HandlerGrace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		logger.Warn().Dur("grace", s.cfg.HandlerGrace).Msg("handler did not return after cancellation")
	}
}

// runHandlers invokes the new-chat handler for a new conversation, then the
// message handler for a non-blank message. The end marker is always queued.
func (s *Stream) runHandlers(ctx context.Context) {
	defer s.channel.End()

	err := s.invokeHandlers(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	log.Error().
		Err(err).
		Str("component", "stream").
		Str("stream_id", s.id).
		Str("conv_id", s.conversationID).
		Msg("handler failed")
	s.setReason(ReasonError, DetailHandlerError, err.Error())
}

func (s *Stream) invokeHandlers(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()

	scope := session.NewScope(s.session, s.channel)

	if s.newConversation {
		if h := s.registry.NewChatHandler(); h != nil {
			nc := &hooks.NewChatContext{Scope: scope, ConversationID: s.conversationID, UserID: s.userID}
			if err := h(ctx, nc); err != nil {
				return err
			}
		}
	}

	h := s.registry.MessageHandler()
	if h == nil || strings.TrimSpace(s.message) == "" {
		return nil
	}
	mc := &hooks.MessageContext{
		Scope:          scope,
		ConversationID: s.conversationID,
		UserID:         s.userID,
		Message:        s.message,
	}
	return h(ctx, mc)
}

func (s *Stream) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Closed() {
				return
			}
			s.channel.Emit(model.HeartbeatEvent())
		}
	}
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
