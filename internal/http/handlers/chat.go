package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lorebound/lorebound-backend/internal/http/response"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	"github.com/lorebound/lorebound-backend/internal/services"
)

type ChatHandler struct {
	chat services.ChatService
}

func NewChatHandler(chat services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type createChatReq struct {
	Title          string      `json:"title"`
	ParticipantIDs []uuid.UUID `json:"participantIds"`
	Tags           []string    `json:"tags"`
}

// POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chat, err := h.chat.CreateChat(dbc, req.Title, req.ParticipantIDs, req.Tags)
	if err != nil {
		response.RespondServiceError(c, "create_chat_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

// GET /api/chats?limit=50
func (h *ChatHandler) ListChats(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chats, err := h.chat.ListChats(dbc, limit)
	if err != nil {
		response.RespondServiceError(c, "list_chats_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chat, err := h.chat.GetChat(dbc, chatID)
	if err != nil {
		response.RespondServiceError(c, "chat_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

// DELETE /api/chats/:id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	deleted, err := h.chat.DeleteChat(dbc, chatID)
	if err != nil {
		response.RespondServiceError(c, "delete_chat_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": deleted})
}

// GET /api/chats/:id/tree
func (h *ChatHandler) GetTree(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	nodes, err := h.chat.GetTree(dbc, chatID)
	if err != nil {
		response.RespondServiceError(c, "get_tree_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"nodes": nodes})
}

// GET /api/chats/:id/path
func (h *ChatHandler) GetActivePath(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	path, nodes, err := h.chat.GetActivePath(dbc, chatID)
	if err != nil {
		response.RespondServiceError(c, "get_active_path_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"path": path, "nodes": nodes})
}

type appendMessageReq struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	ParentID  *string   `json:"parentId"`
	SpeakerID uuid.UUID `json:"speakerId"`
	Message   string    `json:"message"`
	IsBot     bool      `json:"isBot"`
}

// POST /api/chats/:id/messages
func (h *ChatHandler) AppendMessage(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req appendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, parent, err := h.chat.AppendMessage(dbc, services.AppendRequest{
		ChatID:     chatID,
		ParentID:   req.ParentID,
		SpeakerID:  req.SpeakerID,
		Message:    req.Message,
		IsBot:      req.IsBot,
		ExternalID: req.ID,
		ClientID:   req.ClientID,
	})
	if err != nil {
		response.RespondServiceError(c, "append_message_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"node": node, "parent": parent})
}

type editMessageReq struct {
	Message string `json:"message"`
}

// PATCH /api/messages/:node_id
func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	node, err := h.chat.EditMessage(dbc, c.Param("node_id"), req.Message)
	if err != nil {
		response.RespondServiceError(c, "edit_message_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"node": node})
}

// DELETE /api/messages/:node_id
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	deleted, err := h.chat.DeleteMessage(dbc, c.Param("node_id"))
	if err != nil {
		response.RespondServiceError(c, "delete_message_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": deleted})
}

type switchBranchReq struct {
	TargetID string `json:"targetId"`
}

// POST /api/chats/:id/switch
func (h *ChatHandler) SwitchBranch(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req switchBranchReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	mutated, err := h.chat.SwitchBranch(dbc, chatID, req.TargetID)
	if err != nil {
		response.RespondServiceError(c, "switch_branch_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"mutated": mutated})
}

type swipeReq struct {
	Direction string `json:"direction"`
}

// POST /api/messages/:node_id/swipe
func (h *ChatHandler) SwipeSibling(c *gin.Context) {
	var req swipeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	parent, sibling, err := h.chat.SwipeSibling(dbc, c.Param("node_id"), services.SwipeDirection(req.Direction))
	if err != nil {
		response.RespondServiceError(c, "swipe_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"parent": parent, "sibling": sibling})
}
