package postgres

import (
	"context"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"gorm.io/gorm"
)

type journalRepo struct {
	db *gorm.DB
}

func NewJournalRepo(db *gorm.DB) repositories.JournalRepository {
	return &journalRepo{db: db}
}

func (r *journalRepo) Create(ctx context.Context, j *models.JournalEntry) error {
	return translate(r.db.WithContext(ctx).Create(j).Error)
}

func (r *journalRepo) GetForUser(ctx context.Context, userID, id string) (*models.JournalEntry, error) {
	var row models.JournalEntry
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (r *journalRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.JournalEntry, error) {
	limit, offset = repositories.Page(limit, offset)

	var rows []models.JournalEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("create_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *journalRepo) Update(ctx context.Context, j *models.JournalEntry) error {
	res := r.db.WithContext(ctx).
		Model(&models.JournalEntry{}).
		Where("id = ? AND user_id = ?", j.ID, j.UserID).
		Updates(map[string]any{
			"content":     j.Content,
			"mood":        j.Mood,
			"update_time": j.UpdateTime,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *journalRepo) Delete(ctx context.Context, userID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.JournalEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}
