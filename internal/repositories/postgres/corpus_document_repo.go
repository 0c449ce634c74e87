package postgres

import (
	"context"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"gorm.io/gorm"
)

type corpusDocumentRepo struct {
	db *gorm.DB
}

func NewCorpusDocumentRepo(db *gorm.DB) repositories.CorpusDocumentRepository {
	return &corpusDocumentRepo{db: db}
}

func (r *corpusDocumentRepo) Insert(ctx context.Context, d *models.CorpusDocument) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *corpusDocumentRepo) List(ctx context.Context, limit int) ([]models.CorpusDocument, error) {
	limit, _ = repositories.Page(limit, 0)

	var rows []models.CorpusDocument
	err := r.db.WithContext(ctx).
		Order("upload_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
