package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/realtime"
)

// RealtimeHandler serves the SSE firehose. Clients pick their channels at
// connect time with ?channels=<chat-id>,<chat-id>; the shared chat-list
// channel is always included so list views stay current.
type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log, hub: hub}
}

// GET /api/realtime/stream?channels=...
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	client := h.hub.NewSSEClient()

	h.hub.AddChannel(client, "chats")
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			h.hub.AddChannel(client, ch)
		}
	}
	h.log.Debug("SSE stream open", "client_id", client.ID.String())

	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.hub.CloseClient(client)
}
