package postgres

import (
	"context"
	"errors"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"gorm.io/gorm"
)

// NewStore wires every gorm repository over db.
func NewStore(db *gorm.DB) repositories.Store {
	return repositories.Store{
		Users:         NewUserRepo(db),
		Conversations: NewConversationRepo(db),
		Messages:      NewMessageRepo(db),
		Journals:      NewJournalRepo(db),
		Documents:     NewCorpusDocumentRepo(db),
	}
}

func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.JournalEntry{},
		&models.CorpusDocument{},
	)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return utils.ErrConflict
	default:
		return err
	}
}
