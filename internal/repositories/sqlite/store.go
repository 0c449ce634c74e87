// Package sqlite implements the durable store on database/sql for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL UNIQUE,
	dob        TEXT,
	password   TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'user',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL,
	create_time TEXT NOT NULL,
	update_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, update_time);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	metadata        TEXT,
	create_time     TEXT NOT NULL,
	update_time     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conv_time ON messages(conversation_id, create_time);
CREATE TABLE IF NOT EXISTS journals (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL UNIQUE,
	content         TEXT NOT NULL,
	mood            TEXT NOT NULL,
	sentiment_score REAL NOT NULL,
	create_time     TEXT NOT NULL,
	update_time     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journals_user ON journals(user_id, create_time);
CREATE TABLE IF NOT EXISTS corpus_documents (
	id          TEXT PRIMARY KEY,
	uploaded_by TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	file_size   INTEGER NOT NULL,
	mime_type   TEXT NOT NULL,
	upload_at   TEXT NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func NewStore(db *sql.DB) repositories.Store {
	return repositories.Store{
		Users:         &userRepo{db: db},
		Conversations: &conversationRepo{db: db},
		Messages:      &messageRepo{db: db},
		Journals:      &journalRepo{db: db},
		Documents:     &corpusDocumentRepo{db: db},
	}
}

// Fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return utils.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", utils.ErrConflict, err)
	default:
		return err
	}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return utils.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
