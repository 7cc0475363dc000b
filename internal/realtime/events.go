package realtime

import (
	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventStreamStart SSEEvent = "stream:start"
	SSEEventStreamChunk SSEEvent = "stream:chunk"
	SSEEventStreamEnd   SSEEvent = "stream:end"
	SSEEventStreamError SSEEvent = "stream:error"

	SSEEventChatCreated SSEEvent = "chat:created"
	SSEEventChatDeleted SSEEvent = "chat:deleted"
	SSEEventNodeUpdated SSEEvent = "node:updated"
	SSEEventNodeDeleted SSEEvent = "node:deleted"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// StreamEvent is the wire payload for generation stream events. One JSON
// object per message; fields not relevant to the event type are omitted.
type StreamEvent struct {
	Type      string    `json:"type"`
	ChatID    uuid.UUID `json:"chatId"`
	StreamID  string    `json:"streamId"`
	ParentID  *string   `json:"parentId,omitempty"`
	SpeakerID uuid.UUID `json:"speakerId,omitempty"`
	// NodeClientID is pre-assigned at stream start so clients can render a
	// placeholder and reconcile it to the persisted node at stream end.
	NodeClientID string `json:"nodeClientId,omitempty"`
	Delta        string `json:"delta,omitempty"`
	NodeID       string `json:"nodeId,omitempty"`
	Error        string `json:"error,omitempty"`
}
