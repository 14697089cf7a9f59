package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/actor"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/protocol"
)

// Dispatcher routes a frame to the actor named by id.
type Dispatcher interface {
	Deliver(ctx context.Context, id string, frame protocol.Inbound) (*actor.Response, error)
	Len() int
}

// Handler handles the request/response API.
type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(dispatcher Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes registers the routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/agents/:id/message", h.PostMessage)
	e.POST("/agents/:id/clear", h.ClearHistory)
	e.GET("/agents/:id/history", h.GetHistory)
	e.GET("/health", h.Health)
}

// MessageRequest is the body of POST /agents/:id/message.
type MessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is the reply to POST /agents/:id/message.
type MessageResponse struct {
	Success      bool   `json:"success"`
	Response     string `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`
	MessageCount int    `json:"messageCount"`
}

// ClearResponse is the reply to POST /agents/:id/clear.
type ClearResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HistoryResponse is the reply to GET /agents/:id/history.
type HistoryResponse struct {
	History []domain.Message `json:"history"`
}

// PostMessage sends a chat message and waits for the reply.
func (h *Handler) PostMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(nethttp.StatusBadRequest, MessageResponse{Error: "invalid request body"})
	}

	frame := &protocol.ChatFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeChat}, Message: req.Content}
	resp, err := h.dispatcher.Deliver(c.Request().Context(), c.Param("id"), frame)
	if err != nil {
		return c.JSON(h.status(err), MessageResponse{Error: err.Error()})
	}

	out := MessageResponse{MessageCount: resp.MessageCount}
	if reply, ok := find[*protocol.ChatResponseMessage](resp.Frames); ok {
		out.Success = true
		out.Response = reply.Message
		return c.JSON(nethttp.StatusOK, out)
	}
	out.Error = frameError(resp.Frames)
	return c.JSON(nethttp.StatusOK, out)
}

// ClearHistory deletes the stored conversation.
func (h *Handler) ClearHistory(c echo.Context) error {
	frame := &protocol.ClearHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeClearHistory}}
	resp, err := h.dispatcher.Deliver(c.Request().Context(), c.Param("id"), frame)
	if err != nil {
		return c.JSON(h.status(err), ClearResponse{Error: err.Error()})
	}
	if _, ok := find[*protocol.HistoryClearedMessage](resp.Frames); !ok {
		return c.JSON(nethttp.StatusInternalServerError, ClearResponse{Error: frameError(resp.Frames)})
	}
	return c.JSON(nethttp.StatusOK, ClearResponse{Success: true})
}

// GetHistory returns the stored conversation.
func (h *Handler) GetHistory(c echo.Context) error {
	frame := &protocol.GetHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetHistory}}
	resp, err := h.dispatcher.Deliver(c.Request().Context(), c.Param("id"), frame)
	if err != nil {
		return c.JSON(h.status(err), map[string]string{"error": err.Error()})
	}
	history, ok := find[*protocol.HistoryResponseMessage](resp.Frames)
	if !ok {
		return c.JSON(nethttp.StatusInternalServerError, map[string]string{"error": frameError(resp.Frames)})
	}
	return c.JSON(nethttp.StatusOK, HistoryResponse{History: history.History})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(nethttp.StatusOK, map[string]interface{}{
		"status": "healthy",
		"actors": h.dispatcher.Len(),
	})
}

func (h *Handler) status(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidActorID):
		return nethttp.StatusBadRequest
	case errors.Is(err, domain.ErrActorDisposed):
		return nethttp.StatusServiceUnavailable
	default:
		h.logger.Error("delivery failed", zap.Error(err))
		return nethttp.StatusInternalServerError
	}
}

func find[T protocol.Outbound](frames []protocol.Outbound) (T, bool) {
	for _, f := range frames {
		if v, ok := f.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func frameError(frames []protocol.Outbound) string {
	if e, ok := find[*protocol.ErrorMessage](frames); ok {
		return e.Message
	}
	return "no response"
}
