// Package repositories declares the durable store contracts. Implementations
// live in the postgres (gorm) and sqlite (database/sql) subpackages; both
// return utils.ErrNotFound for missing rows and utils.ErrConflict for
// uniqueness violations.
package repositories

import (
	"context"
	"time"

	"github.com/mindpal/backend/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, c *models.Conversation) error
	// GetForUser only returns the row when it belongs to userID.
	GetForUser(ctx context.Context, userID, id string) (*models.Conversation, error)
	// ListByUser orders by update_time, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error)
	// ListWithoutJournal returns the user's conversations that have no journal
	// entry yet, oldest first.
	ListWithoutJournal(ctx context.Context, userID string) ([]models.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Delete removes the conversation and its messages.
	Delete(ctx context.Context, userID, id string) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	// ListOrdered returns messages in chronological order.
	ListOrdered(ctx context.Context, conversationID string) ([]models.Message, error)
}

type JournalRepository interface {
	Create(ctx context.Context, j *models.JournalEntry) error
	GetForUser(ctx context.Context, userID, id string) (*models.JournalEntry, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.JournalEntry, error)
	Update(ctx context.Context, j *models.JournalEntry) error
	Delete(ctx context.Context, userID, id string) error
}

type CorpusDocumentRepository interface {
	Insert(ctx context.Context, d *models.CorpusDocument) error
	List(ctx context.Context, limit int) ([]models.CorpusDocument, error)
}

// Store bundles one implementation of every repository.
type Store struct {
	Users         UserRepository
	Conversations ConversationRepository
	Messages      MessageRepository
	Journals      JournalRepository
	Documents     CorpusDocumentRepository
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page clamps caller-supplied pagination.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
