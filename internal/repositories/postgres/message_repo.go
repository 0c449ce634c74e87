package postgres

import (
	"context"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"gorm.io/gorm"
)

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) repositories.MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, m *models.Message) error {
	return translate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *messageRepo) ListOrdered(ctx context.Context, conversationID string) ([]models.Message, error) {
	var rows []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("create_time ASC").
		Find(&rows).Error
	return rows, err
}
