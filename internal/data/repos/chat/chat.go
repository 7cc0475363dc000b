package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/lorebound/lorebound-backend/internal/domain"
	"github.com/lorebound/lorebound-backend/internal/pkg/dbctx"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
)

type ChatRepo interface {
	Create(dbc dbctx.Context, row *types.Chat) (*types.Chat, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chat, error)
	List(dbc dbctx.Context, limit int) ([]*types.Chat, error)
	SetRootNode(dbc dbctx.Context, id uuid.UUID, rootNodeID *string) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// Delete removes the chat and cascade-deletes every node it owns.
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chatRepo) Create(dbc dbctx.Context, row *types.Chat) (*types.Chat, error) {
	if row == nil {
		return nil, fmt.Errorf("missing chat row")
	}
	if row.ID == uuid.Nil {
		// sqlite has no uuid_generate_v4(); assign client-side for both drivers.
		row.ID = uuid.New()
	}
	if len(row.ParticipantIDs) == 0 {
		row.SetParticipants(nil)
	}
	if len(row.Tags) == 0 {
		row.SetTags(nil)
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chat, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	var row types.Chat
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatRepo) List(dbc dbctx.Context, limit int) ([]*types.Chat, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Chat
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chat{}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) SetRootNode(dbc dbctx.Context, id uuid.UUID, rootNodeID *string) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chat{}).
		Where("id = ?", id).
		Update("root_node_id", rootNodeID).Error
}

func (r *chatRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	if len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chat{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chatRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing chat_id")
	}
	txx := r.tx(dbc).WithContext(dbc.Ctx)
	res := txx.Where("id = ?", id).Delete(&types.Chat{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := txx.Where("chat_id = ?", id).Delete(&types.ChatNode{}).Error; err != nil {
		return false, err
	}
	return true, nil
}
