package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lorebound/lorebound-backend/internal/http/response"
	"github.com/lorebound/lorebound-backend/internal/services"
)

// StreamHandler exposes the generation-stream lifecycle. The start call
// returns immediately with the session descriptor; tokens arrive over the
// realtime channel, not the HTTP response.
type StreamHandler struct {
	streams services.StreamSessionManager
}

func NewStreamHandler(streams services.StreamSessionManager) *StreamHandler {
	return &StreamHandler{streams: streams}
}

type startStreamReq struct {
	ParentID  *string   `json:"parentId"`
	SpeakerID uuid.UUID `json:"speakerId"`
}

// POST /api/chats/:id/generate
func (h *StreamHandler) Generate(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req startStreamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sess, err := h.streams.Generate(c.Request.Context(), chatID, req.ParentID, req.SpeakerID)
	if err != nil {
		response.RespondServiceError(c, "start_stream_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"streamId":     sess.ID,
		"nodeClientId": sess.NodeClientID,
		"startedAt":    sess.StartedAt,
	})
}

// POST /api/chats/:id/stream/cancel
func (h *StreamHandler) Cancel(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	cancelled := h.streams.Cancel(chatID)
	response.RespondOK(c, gin.H{"cancelled": cancelled})
}

// GET /api/chats/:id/stream
//
// Catch-up endpoint: a client that subscribed mid-stream fetches the text
// accumulated so far instead of replaying missed chunk events.
func (h *StreamHandler) Current(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	sess, ok := h.streams.Active(chatID)
	if !ok {
		response.RespondOK(c, gin.H{"active": false})
		return
	}
	content, _ := h.streams.CurrentContent(chatID)
	response.RespondOK(c, gin.H{
		"active":       true,
		"streamId":     sess.ID,
		"nodeClientId": sess.NodeClientID,
		"content":      content,
		"startedAt":    sess.StartedAt,
	})
}
