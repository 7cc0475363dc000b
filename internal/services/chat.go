package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepo "github.com/lorebound/lorebound-backend/internal/data/repos/chat"
	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	apperr "github.com/lorebound/lorebound-backend/internal/pkg/errors"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/pkg/nodeid"
	"github.com/lorebound/lorebound-backend/internal/tree"
)

type SwipeDirection string

const (
	SwipePrev SwipeDirection = "prev"
	SwipeNext SwipeDirection = "next"
)

// AppendRequest describes one node insertion. ExternalID and ClientID are
// optional; when set they must match the 12-char alphanumeric id shape.
type AppendRequest struct {
	ChatID     uuid.UUID
	ParentID   *string
	SpeakerID  uuid.UUID
	Message    string
	IsBot      bool
	ExternalID string
	ClientID   string
}

// ChatService is the transactional mutation surface over conversation
// trees. Every multi-step mutation (append touching parent and child,
// subtree delete, branch switch) runs in a single transaction; partial
// application is never observable. Errors use the pkg/errors sentinels so
// the routing layer can pick statuses without parsing messages.
type ChatService interface {
	CreateChat(dbc dbctx.Context, title string, participants []uuid.UUID, tags []string) (*types.Chat, error)
	GetChat(dbc dbctx.Context, chatID uuid.UUID) (*types.Chat, error)
	ListChats(dbc dbctx.Context, limit int) ([]*types.Chat, error)
	DeleteChat(dbc dbctx.Context, chatID uuid.UUID) (bool, error)

	AppendMessage(dbc dbctx.Context, req AppendRequest) (*types.ChatNode, *types.ChatNode, error)
	EditMessage(dbc dbctx.Context, nodeID string, newMessage string) (*types.ChatNode, error)
	DeleteMessage(dbc dbctx.Context, nodeID string) (bool, error)
	SwitchBranch(dbc dbctx.Context, chatID uuid.UUID, targetID string) ([]*types.ChatNode, error)
	SwipeSibling(dbc dbctx.Context, nodeID string, direction SwipeDirection) (*types.ChatNode, *types.ChatNode, error)

	GetTree(dbc dbctx.Context, chatID uuid.UUID) (map[string]*types.ChatNode, error)
	GetActivePath(dbc dbctx.Context, chatID uuid.UUID) ([]string, map[string]*types.ChatNode, error)
}

type chatService struct {
	db     *gorm.DB
	log    *logger.Logger
	chats  chatrepo.ChatRepo
	nodes  chatrepo.NodeRepo
	notify ChatNotifier
}

func NewChatService(db *gorm.DB, log *logger.Logger, chats chatrepo.ChatRepo, nodes chatrepo.NodeRepo, notify ChatNotifier) ChatService {
	return &chatService{
		db:     db,
		log:    log.With("service", "ChatService"),
		chats:  chats,
		nodes:  nodes,
		notify: notify,
	}
}

// transaction runs fn inside a gorm transaction unless the caller already
// supplied one.
func (s *chatService) transaction(dbc dbctx.Context, fn func(inner dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return s.db.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: dbc.Ctx, Tx: txx})
	})
}

func (s *chatService) CreateChat(dbc dbctx.Context, title string, participants []uuid.UUID, tags []string) (*types.Chat, error) {
	row := &types.Chat{}
	if title != "" {
		row.Title = title
	} else {
		row.Title = "New Chat"
	}
	row.SetParticipants(participants)
	row.SetTags(tags)
	created, err := s.chats.Create(dbc, row)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.notify.ChatCreated(created)
	return created, nil
}

func (s *chatService) GetChat(dbc dbctx.Context, chatID uuid.UUID) (*types.Chat, error) {
	c, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

func (s *chatService) ListChats(dbc dbctx.Context, limit int) ([]*types.Chat, error) {
	return s.chats.List(dbc, limit)
}

func (s *chatService) DeleteChat(dbc dbctx.Context, chatID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		var err error
		deleted, err = s.chats.Delete(inner, chatID)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.notify.ChatDeleted(chatID)
	}
	return deleted, nil
}

// AppendMessage inserts a node and, when it has a parent, makes it the
// parent's active branch. A fresh child always becoming active is what
// lets "regenerate" and "new reply" both surface on the active path
// without a follow-up switch call.
func (s *chatService) AppendMessage(dbc dbctx.Context, req AppendRequest) (*types.ChatNode, *types.ChatNode, error) {
	if req.ChatID == uuid.Nil {
		return nil, nil, fmt.Errorf("missing chat_id: %w", apperr.ErrInvalidArgument)
	}
	if req.ExternalID != "" && !nodeid.Valid(req.ExternalID) {
		return nil, nil, fmt.Errorf("malformed node id %q: %w", req.ExternalID, apperr.ErrInvalidArgument)
	}
	if req.ClientID != "" && !nodeid.Valid(req.ClientID) {
		return nil, nil, fmt.Errorf("malformed client id %q: %w", req.ClientID, apperr.ErrInvalidArgument)
	}

	var node *types.ChatNode
	var parent *types.ChatNode
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		c, err := s.chats.GetByID(inner, req.ChatID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("chat %s: %w", req.ChatID, apperr.ErrNotFound)
		}

		id := req.ExternalID
		if id != "" {
			exists, err := s.nodes.ExistsID(inner, id)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("node id %q already exists: %w", id, apperr.ErrConflict)
			}
		} else {
			id, err = s.freshNodeID(inner)
			if err != nil {
				return err
			}
		}

		row := &types.ChatNode{
			ID:        id,
			ChatID:    req.ChatID,
			ClientID:  req.ClientID,
			ParentID:  req.ParentID,
			SpeakerID: req.SpeakerID,
			Message:   req.Message,
			IsBot:     req.IsBot,
		}
		row.SetChildren(nil)

		if req.ParentID == nil {
			if c.RootNodeID != nil {
				return fmt.Errorf("chat %s already has a root: %w", req.ChatID, apperr.ErrConflict)
			}
			if node, err = s.nodes.Create(inner, row); err != nil {
				return err
			}
			return s.chats.SetRootNode(inner, req.ChatID, &row.ID)
		}

		parent, err = s.nodes.GetByID(inner, *req.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent %s: %w", *req.ParentID, apperr.ErrNotFound)
		}
		if parent.ChatID != req.ChatID {
			return fmt.Errorf("parent %s belongs to another chat: %w", parent.ID, apperr.ErrInvalidArgument)
		}

		if node, err = s.nodes.Create(inner, row); err != nil {
			return err
		}

		kids := append(parent.Children(), row.ID)
		parent.SetChildren(kids)
		newActive := len(kids) - 1
		parent.ActiveChildIndex = &newActive
		return s.nodes.UpdateFields(inner, parent.ID, map[string]interface{}{
			"child_ids":          parent.ChildIDs,
			"active_child_index": newActive,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return node, parent, nil
}

// freshNodeID generates an id and re-rolls on the (vanishingly unlikely)
// collision with an existing row.
func (s *chatService) freshNodeID(dbc dbctx.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id := nodeid.Generate()
		exists, err := s.nodes.ExistsID(dbc, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a fresh node id")
}

// EditMessage rewrites a node's text in place. Tree shape is untouched.
func (s *chatService) EditMessage(dbc dbctx.Context, nodeID string, newMessage string) (*types.ChatNode, error) {
	var node *types.ChatNode
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		var err error
		node, err = s.nodes.GetByID(inner, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
		}
		now := time.Now().UTC()
		node.Message = newMessage
		node.UpdatedAt = &now
		return s.nodes.UpdateFields(inner, nodeID, map[string]interface{}{
			"message":    newMessage,
			"updated_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.notify.NodeUpdated(node.ChatID, node)
	return node, nil
}

// DeleteMessage removes a node and its entire subtree, repairs the
// parent's child list and active index, and clears the chat root when the
// root itself was deleted. Returns false when the node does not exist.
func (s *chatService) DeleteMessage(dbc dbctx.Context, nodeID string) (bool, error) {
	var deletedIDs []string
	var chatID uuid.UUID
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		node, err := s.nodes.GetByID(inner, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return nil
		}
		chatID = node.ChatID

		nodes, err := s.loadTree(inner, node.ChatID)
		if err != nil {
			return err
		}

		// Breadth-first collection of the subtree, then one batched delete.
		deletedIDs = collectSubtree(nodeID, nodes)
		if _, err := s.nodes.DeleteByIDs(inner, deletedIDs); err != nil {
			return err
		}

		if node.ParentID == nil {
			return s.chats.SetRootNode(inner, node.ChatID, nil)
		}

		parent, ok := nodes[*node.ParentID]
		if !ok || parent == nil {
			// Dangling parent reference; nothing left to repair.
			return nil
		}
		kids := parent.Children()
		pos := -1
		remaining := make([]string, 0, len(kids))
		for i, id := range kids {
			if id == nodeID {
				pos = i
				continue
			}
			remaining = append(remaining, id)
		}
		if pos < 0 {
			return nil
		}
		parent.SetChildren(remaining)

		updates := map[string]interface{}{"child_ids": parent.ChildIDs}
		if len(remaining) == 0 {
			updates["active_child_index"] = nil
		} else if parent.ActiveChildIndex != nil && *parent.ActiveChildIndex < pos {
			// Still points at the same sibling; index unchanged.
		} else {
			updates["active_child_index"] = len(remaining) - 1
		}
		return s.nodes.UpdateFields(inner, parent.ID, updates)
	})
	if err != nil {
		return false, err
	}
	if len(deletedIDs) == 0 {
		return false, nil
	}
	s.notify.NodeDeleted(chatID, deletedIDs)
	return true, nil
}

// SwitchBranch repoints every ancestor between targetID and the root so
// the active path runs through the target. Already-correct ancestors are
// untouched; an already-active target returns an empty slice.
func (s *chatService) SwitchBranch(dbc dbctx.Context, chatID uuid.UUID, targetID string) ([]*types.ChatNode, error) {
	var mutated []*types.ChatNode
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		target, err := s.nodes.GetByID(inner, targetID)
		if err != nil {
			return err
		}
		if target == nil || target.ChatID != chatID {
			return fmt.Errorf("node %s in chat %s: %w", targetID, chatID, apperr.ErrNotFound)
		}

		nodes, err := s.loadTree(inner, chatID)
		if err != nil {
			return err
		}
		patches := tree.ComputeBranchSwitch(targetID, nodes)
		mutated = make([]*types.ChatNode, 0, len(patches))
		for _, p := range patches {
			if err := s.nodes.UpdateFields(inner, p.NodeID, map[string]interface{}{
				"active_child_index": p.NewActiveChildIndex,
			}); err != nil {
				return err
			}
			n := nodes[p.NodeID]
			idx := p.NewActiveChildIndex
			n.ActiveChildIndex = &idx
			mutated = append(mutated, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}

// SwipeSibling moves the active branch to the previous or next sibling of
// nodeID under the same parent. Swiping is clamped: moving past either end
// is a boundary error and leaves the parent untouched.
func (s *chatService) SwipeSibling(dbc dbctx.Context, nodeID string, direction SwipeDirection) (*types.ChatNode, *types.ChatNode, error) {
	var delta int
	switch direction {
	case SwipePrev:
		delta = -1
	case SwipeNext:
		delta = 1
	default:
		return nil, nil, fmt.Errorf("direction %q: %w", direction, apperr.ErrInvalidArgument)
	}

	var parent, sibling *types.ChatNode
	err := s.transaction(dbc, func(inner dbctx.Context) error {
		node, err := s.nodes.GetByID(inner, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
		}
		if node.ParentID == nil {
			return fmt.Errorf("node %s is a root: %w", nodeID, apperr.ErrBoundary)
		}
		parent, err = s.nodes.GetByID(inner, *node.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent %s: %w", *node.ParentID, apperr.ErrNotFound)
		}

		kids := parent.Children()
		if len(kids) < 2 {
			return fmt.Errorf("node %s has no siblings: %w", nodeID, apperr.ErrBoundary)
		}
		pos := -1
		for i, id := range kids {
			if id == nodeID {
				pos = i
				break
			}
		}
		if pos < 0 {
			return fmt.Errorf("node %s missing from parent child list: %w", nodeID, apperr.ErrNotFound)
		}
		next := pos + delta
		if next < 0 || next >= len(kids) {
			return fmt.Errorf("swipe %s at position %d/%d: %w", direction, pos, len(kids), apperr.ErrBoundary)
		}

		if err := s.nodes.UpdateFields(inner, parent.ID, map[string]interface{}{
			"active_child_index": next,
		}); err != nil {
			return err
		}
		parent.ActiveChildIndex = &next

		sibling, err = s.nodes.GetByID(inner, kids[next])
		if err != nil {
			return err
		}
		if sibling == nil {
			return fmt.Errorf("sibling %s: %w", kids[next], apperr.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.notify.NodeUpdated(parent.ChatID, parent)
	return parent, sibling, nil
}

func (s *chatService) GetTree(dbc dbctx.Context, chatID uuid.UUID) (map[string]*types.ChatNode, error) {
	c, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("chat %s: %w", chatID, apperr.ErrNotFound)
	}
	return s.loadTree(dbc, chatID)
}

// GetActivePath resolves the chat's active root-to-leaf path and returns
// the ordered ids together with the nodes on the path.
func (s *chatService) GetActivePath(dbc dbctx.Context, chatID uuid.UUID) ([]string, map[string]*types.ChatNode, error) {
	c, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, nil, fmt.Errorf("chat %s: %w", chatID, apperr.ErrNotFound)
	}
	if c.RootNodeID == nil {
		return []string{}, map[string]*types.ChatNode{}, nil
	}
	nodes, err := s.loadTree(dbc, chatID)
	if err != nil {
		return nil, nil, err
	}
	path := tree.ActivePath(*c.RootNodeID, nodes)
	onPath := make(map[string]*types.ChatNode, len(path))
	for _, id := range path {
		onPath[id] = nodes[id]
	}
	return path, onPath, nil
}

func (s *chatService) loadTree(dbc dbctx.Context, chatID uuid.UUID) (map[string]*types.ChatNode, error) {
	rows, err := s.nodes.ListByChat(dbc, chatID)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*types.ChatNode, len(rows))
	for _, n := range rows {
		nodes[n.ID] = n
	}
	return nodes, nil
}

// collectSubtree gathers rootID and every descendant reachable through
// child lists, breadth-first.
func collectSubtree(rootID string, nodes map[string]*types.ChatNode) []string {
	out := []string{}
	seen := map[string]bool{}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		node, ok := nodes[id]
		if !ok || node == nil {
			continue
		}
		out = append(out, id)
		queue = append(queue, node.Children()...)
	}
	return out
}
