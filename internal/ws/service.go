package ws

import "github.com/rs/zerolog/log"

// Service bundles the WebSocket handler with the hub of live connections.
type Service struct {
	hub     *Hub
	handler *Handler
}

// NewService creates a new WebSocket service serving streams from streams.
func NewService(streams StreamService) *Service {
	hub := NewHub()
	return &Service{
		hub:     hub,
		handler: NewHandler(hub, streams),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// ClientCount returns the number of live stream connections.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// Close closes all WebSocket connections. Their streams end as client aborts.
func (s *Service) Close() {
	if n := s.hub.ClientCount(); n > 0 {
		log.Info().Str("component", "ws").Int("clients", n).Msg("closing websocket connections")
	}
	s.hub.Close()
}
