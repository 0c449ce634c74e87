package postgres

import (
	"context"
	"time"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"gorm.io/gorm"
)

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) repositories.ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *conversationRepo) GetForUser(ctx context.Context, userID, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (r *conversationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	limit, offset = repositories.Page(limit, offset)

	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("update_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) ListWithoutJournal(ctx context.Context, userID string) ([]models.Conversation, error) {
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM journals j WHERE j.conversation_id = conversations.id)").
		Order("create_time ASC").
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("update_time", at).Error
}

func (r *conversationRepo) Delete(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error
	})
}
