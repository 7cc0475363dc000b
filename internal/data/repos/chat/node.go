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

type NodeRepo interface {
	Create(dbc dbctx.Context, row *types.ChatNode) (*types.ChatNode, error)
	GetByID(dbc dbctx.Context, id string) (*types.ChatNode, error)
	ExistsID(dbc dbctx.Context, id string) (bool, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*types.ChatNode, error)
	CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error)
	UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error
	DeleteByIDs(dbc dbctx.Context, ids []string) (int64, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, log *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: log.With("repo", "NodeRepo")}
}

func (r *nodeRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *nodeRepo) Create(dbc dbctx.Context, row *types.ChatNode) (*types.ChatNode, error) {
	if row == nil {
		return nil, fmt.Errorf("missing node row")
	}
	if row.ID == "" {
		return nil, fmt.Errorf("missing node id")
	}
	if len(row.ChildIDs) == 0 {
		row.SetChildren(nil)
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *nodeRepo) GetByID(dbc dbctx.Context, id string) (*types.ChatNode, error) {
	if id == "" {
		return nil, fmt.Errorf("missing node id")
	}
	var row types.ChatNode
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *nodeRepo) ExistsID(dbc dbctx.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var count int64
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *nodeRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*types.ChatNode, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	var out []*types.ChatNode
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *nodeRepo) CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat_id")
	}
	var count int64
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("chat_id = ?", chatID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *nodeRepo) UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("missing node id")
	}
	if len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *nodeRepo) DeleteByIDs(dbc dbctx.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.ChatNode{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
