package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurobridge/genjobs/internal/http/response"
	"github.com/neurobridge/genjobs/internal/sse"
)

// SSEHandler implements GET /sse/{chat_id}: subscribes the caller to the
// Event Bus channel for their chat and streams job.updated/ping frames.
type SSEHandler struct {
	bus *sse.Bus
}

func NewSSEHandler(bus *sse.Bus) *SSEHandler {
	return &SSEHandler{bus: bus}
}

func (h *SSEHandler) Stream(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_CHAT_ID", err)
		return
	}
	if h.bus == nil {
		response.RespondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", errors.New("event bus not configured"))
		return
	}

	channel := sse.ChatChannel(chatID)
	sub := h.bus.Subscribe(channel, chatID)
	defer h.bus.Unsubscribe(sub)

	h.bus.ServeHTTP(c.Writer, c.Request, sub)
}
