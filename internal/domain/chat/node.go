package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatNode is one message in a conversation tree. Replies and edits are
// nodes; multiple replies to the same parent are sibling branches. The tree
// is stored as an arena: plain id references, never nested structs.
type ChatNode struct {
	ID     string    `gorm:"type:text;primaryKey" json:"id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index" json:"chatId"`

	// ClientID is an optional correlation id assigned by the client before
	// the server id is known, so optimistic UI state can reconcile.
	ClientID string `gorm:"column:client_id;not null;default:''" json:"clientId,omitempty"`

	ParentID *string        `gorm:"column:parent_id;index" json:"parentId"`
	ChildIDs datatypes.JSON `gorm:"type:jsonb;column:child_ids;not null;default:'[]'" json:"childIds"`

	// ActiveChildIndex selects which branch the active path descends into.
	// Null iff the node has no children. Readers treat out-of-range values
	// as "no active child" rather than erroring.
	ActiveChildIndex *int `gorm:"column:active_child_index" json:"activeChildIndex"`

	SpeakerID uuid.UUID `gorm:"type:uuid;not null;index" json:"speakerId"`
	Message   string    `gorm:"type:text;not null;default:''" json:"message"`
	IsBot     bool      `gorm:"not null;default:false" json:"isBot"`

	CreatedAt time.Time      `gorm:"not null;index" json:"createdAt"`
	UpdatedAt *time.Time     `gorm:"column:updated_at" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ChatNode) TableName() string { return "chat_node" }

// Children decodes the ordered child id list. A corrupt column decodes to
// an empty list instead of failing a read path.
func (n *ChatNode) Children() []string {
	if n == nil || len(n.ChildIDs) == 0 {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal(n.ChildIDs, &out); err != nil {
		return []string{}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func (n *ChatNode) SetChildren(ids []string) {
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	n.ChildIDs = datatypes.JSON(raw)
}

// ActiveChild resolves the currently active child id, applying the
// defensive index clamp readers are required to perform.
func (n *ChatNode) ActiveChild() (string, bool) {
	if n == nil || n.ActiveChildIndex == nil {
		return "", false
	}
	kids := n.Children()
	idx := *n.ActiveChildIndex
	if idx < 0 || idx >= len(kids) {
		return "", false
	}
	return kids[idx], true
}
