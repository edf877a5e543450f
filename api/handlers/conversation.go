// Package handlers provides HTTP API request handlers.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bubblekit/backend/internal/chat"
	"github.com/bubblekit/backend/internal/conversation"
	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/stream"
)

// UserIDHeader is the request header carrying the caller's user id.
const UserIDHeader = "User-Id"

// ConversationHandler handles HTTP requests for conversations and streams.
type ConversationHandler struct {
	chat *chat.Service
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(chatService *chat.Service) *ConversationHandler {
	return &ConversationHandler{
		chat: chatService,
	}
}

// StreamRequest represents the request body for streaming a reply.
type StreamRequest struct {
	ConversationID *string `json:"conversationId"`
	Message        *string `json:"message"`
}

// ConversationListResponse is the body of GET /api/conversations.
type ConversationListResponse struct {
	Conversations []conversation.Entry `json:"conversations"`
}

// MessagesResponse is the body of GET /api/conversations/:id/messages.
type MessagesResponse struct {
	ConversationID string             `json:"conversationId"`
	Messages       []model.JSONBubble `json:"messages"`
}

// CancelResponse is the body of POST /api/streams/:id/cancel.
type CancelResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// getUserID extracts the user id from the User-Id header.
func getUserID(c *gin.Context) string {
	return model.NormalizeUserID(c.GetHeader(UserIDHeader))
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendServiceError maps a service error to an HTTP error response.
func sendServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrReservedConfigKey),
		errors.Is(err, model.ErrInvalidConfig),
		errors.Is(err, model.ErrInvalidHistoryItem),
		errors.Is(err, model.ErrInvalidConversation):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrStreamActive):
		sendError(c, http.StatusConflict, "STREAM_ACTIVE", err.Error())
	case errors.Is(err, model.ErrBubbleNotFound), errors.Is(err, model.ErrStreamNotFound):
		sendError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		log.Error().Err(err).Str("component", "api").Str("path", c.FullPath()).Msg("request failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// List handles GET /api/conversations - lists the user's conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	entries, err := h.chat.ListConversations(c.Request.Context(), getUserID(c))
	if err != nil {
		sendServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, ConversationListResponse{Conversations: entries})
}

// Messages handles GET /api/conversations/:id/messages - returns the conversation history.
func (h *ConversationHandler) Messages(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Conversation ID is required")
		return
	}

	messages, err := h.chat.History(c.Request.Context(), conversationID, getUserID(c))
	if err != nil {
		sendServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessagesResponse{ConversationID: conversationID, Messages: messages})
}

// Stream handles POST /api/conversations/stream - streams the reply as NDJSON.
func (h *ConversationHandler) Stream(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	streamReq := stream.Request{UserID: getUserID(c)}
	if req.ConversationID != nil {
		streamReq.ConversationID = *req.ConversationID
	}
	if req.Message != nil {
		streamReq.Message = *req.Message
	}

	st, err := h.chat.OpenStream(streamReq)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := st.Serve(c.Request.Context(), &ndjsonWriter{w: c.Writer}); err != nil {
		log.Info().Err(err).Str("component", "api").Str("stream_id", st.ID()).Msg("stream ended early")
	}
}

// Cancel handles POST /api/streams/:id/cancel - interrupts an active stream.
func (h *ConversationHandler) Cancel(c *gin.Context) {
	status := "not_found"
	if h.chat.CancelStream(c.Param("id")) {
		status = "ok"
	}
	c.JSON(http.StatusOK, CancelResponse{Status: status})
}

// RegisterRoutes registers the conversation handler routes on a Gin router group.
func (h *ConversationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	conversations := rg.Group("/conversations")
	{
		conversations.GET("", h.List)
		conversations.GET("/:id/messages", h.Messages)
		conversations.POST("/stream", h.Stream)
	}
	rg.POST("/streams/:id/cancel", h.Cancel)
}

// ndjsonWriter writes one JSON event per line and flushes after each.
type ndjsonWriter struct {
	w gin.ResponseWriter
}

func (n *ndjsonWriter) WriteEvent(event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	data = append(data, '\n')
	if _, err := n.w.Write(data); err != nil {
		return errors.Wrap(err, "write event")
	}
	n.w.Flush()
	return nil
}
