package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/ws"
)

// WebSocketHandler handles WebSocket connections for conversation streams.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Stream handles WS /api/conversations/stream/ws - serves one stream over WebSocket.
func (h *WebSocketHandler) Stream(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, getUserID(c)); err != nil {
		// The upgrader already wrote the HTTP error.
		log.Warn().Err(err).Str("component", "api").Msg("websocket connection failed")
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/conversations/stream/ws", h.Stream)
}
