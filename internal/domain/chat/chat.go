package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chat owns a single conversation tree. RootNodeID is null until the first
// node with a null parent is appended, and cleared again if that root is
// deleted. Deleting a chat cascade-deletes every owned node.
type Chat struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Title      string  `gorm:"column:title;not null;default:'New Chat'" json:"title"`
	RootNodeID *string `gorm:"column:root_node_id" json:"rootNodeId"`

	// ParticipantIDs lists speaker ids (characters and personas) taking part.
	ParticipantIDs datatypes.JSON `gorm:"type:jsonb;column:participant_ids;not null;default:'[]'" json:"participantIds"`
	Tags           datatypes.JSON `gorm:"type:jsonb;column:tags;not null;default:'[]'" json:"tags"`

	CreatedAt time.Time      `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Chat) TableName() string { return "chat" }

func (c *Chat) Participants() []uuid.UUID {
	if c == nil || len(c.ParticipantIDs) == 0 {
		return []uuid.UUID{}
	}
	var out []uuid.UUID
	if err := json.Unmarshal(c.ParticipantIDs, &out); err != nil {
		return []uuid.UUID{}
	}
	return out
}

func (c *Chat) SetParticipants(ids []uuid.UUID) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	raw, _ := json.Marshal(ids)
	c.ParticipantIDs = datatypes.JSON(raw)
}

func (c *Chat) TagList() []string {
	if c == nil || len(c.Tags) == 0 {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal(c.Tags, &out); err != nil {
		return []string{}
	}
	return out
}

func (c *Chat) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	c.Tags = datatypes.JSON(raw)
}
