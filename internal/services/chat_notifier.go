package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/realtime"
)

// ChatNotifier publishes chat and generation-stream events. Stream events
// go to the chat's own channel; chat lifecycle events go to the shared
// "chats" channel the chat list subscribes to.
type ChatNotifier interface {
	StreamStarted(chatID uuid.UUID, streamID string, parentID *string, speakerID uuid.UUID, nodeClientID string)
	StreamDelta(chatID uuid.UUID, streamID string, delta string)
	StreamEnded(chatID uuid.UUID, streamID string, nodeID string)
	StreamError(chatID uuid.UUID, streamID string, errMsg string)

	ChatCreated(c *types.Chat)
	ChatDeleted(chatID uuid.UUID)
	NodeUpdated(chatID uuid.UUID, node *types.ChatNode)
	NodeDeleted(chatID uuid.UUID, nodeIDs []string)
}

const chatListChannel = "chats"

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

func (n *chatNotifier) StreamStarted(chatID uuid.UUID, streamID string, parentID *string, speakerID uuid.UUID, nodeClientID string) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventStreamStart,
		Data: realtime.StreamEvent{
			Type:         string(realtime.SSEEventStreamStart),
			ChatID:       chatID,
			StreamID:     streamID,
			ParentID:     parentID,
			SpeakerID:    speakerID,
			NodeClientID: nodeClientID,
		},
	})
}

func (n *chatNotifier) StreamDelta(chatID uuid.UUID, streamID string, delta string) {
	if n == nil || n.emit == nil || chatID == uuid.Nil || delta == "" {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventStreamChunk,
		Data: realtime.StreamEvent{
			Type:     string(realtime.SSEEventStreamChunk),
			ChatID:   chatID,
			StreamID: streamID,
			Delta:    delta,
		},
	})
}

func (n *chatNotifier) StreamEnded(chatID uuid.UUID, streamID string, nodeID string) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventStreamEnd,
		Data: realtime.StreamEvent{
			Type:     string(realtime.SSEEventStreamEnd),
			ChatID:   chatID,
			StreamID: streamID,
			NodeID:   nodeID,
		},
	})
}

func (n *chatNotifier) StreamError(chatID uuid.UUID, streamID string, errMsg string) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventStreamError,
		Data: realtime.StreamEvent{
			Type:     string(realtime.SSEEventStreamError),
			ChatID:   chatID,
			StreamID: streamID,
			Error:    errMsg,
		},
	})
}

func (n *chatNotifier) ChatCreated(c *types.Chat) {
	if n == nil || n.emit == nil || c == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatListChannel,
		Event:   realtime.SSEEventChatCreated,
		Data:    map[string]any{"chat": c},
	})
}

func (n *chatNotifier) ChatDeleted(chatID uuid.UUID) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatListChannel,
		Event:   realtime.SSEEventChatDeleted,
		Data:    map[string]any{"chat_id": chatID},
	})
}

func (n *chatNotifier) NodeUpdated(chatID uuid.UUID, node *types.ChatNode) {
	if n == nil || n.emit == nil || chatID == uuid.Nil || node == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventNodeUpdated,
		Data:    map[string]any{"chat_id": chatID, "node": node},
	})
}

func (n *chatNotifier) NodeDeleted(chatID uuid.UUID, nodeIDs []string) {
	if n == nil || n.emit == nil || chatID == uuid.Nil || len(nodeIDs) == 0 {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: chatID.String(),
		Event:   realtime.SSEEventNodeDeleted,
		Data:    map[string]any{"chat_id": chatID, "node_ids": nodeIDs},
	})
}
