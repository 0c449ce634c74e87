package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"gorm.io/datatypes"
)

type userRepo struct{ db *sql.DB }

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	var dob any
	if u.DOB != nil {
		dob = u.DOB.Format("2006-01-02")
	}
	role := u.Role
	if role == "" {
		role = models.RoleUser
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, dob, password, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, dob, u.Password, string(role), formatTime(u.CreatedAt))
	return translate(err)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, name, email, dob, password, role, created_at FROM users WHERE email = ?`, email))
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, name, email, dob, password, role, created_at FROM users WHERE id = ?`, id))
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u       models.User
		dob     sql.NullString
		role    string
		created string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &dob, &u.Password, &role, &created); err != nil {
		return nil, translate(err)
	}
	u.Role = models.UserRole(role)
	if dob.Valid && dob.String != "" {
		if t, err := time.Parse("2006-01-02", dob.String); err == nil {
			u.DOB = &t
		}
	}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

type conversationRepo struct{ db *sql.DB }

const conversationCols = `id, user_id, title, create_time, update_time`

func (r *conversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationCols+`) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, formatTime(c.CreateTime), formatTime(c.UpdateTime))
	return translate(err)
}

func (r *conversationRepo) GetForUser(ctx context.Context, userID, id string) (*models.Conversation, error) {
	return scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = ? AND user_id = ?`, id, userID))
}

func (r *conversationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	limit, offset = repositories.Page(limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE user_id = ? ORDER BY update_time DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func (r *conversationRepo) ListWithoutJournal(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationCols+` FROM conversations c
		 WHERE c.user_id = ? AND NOT EXISTS (SELECT 1 FROM journals j WHERE j.conversation_id = c.id)
		 ORDER BY c.create_time ASC`, userID)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func (r *conversationRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET update_time = ? WHERE id = ?`, formatTime(at), id)
	return err
}

func (r *conversationRepo) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		c            models.Conversation
		created, upd string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &created, &upd); err != nil {
		return nil, translate(err)
	}
	var err error
	if c.CreateTime, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdateTime, err = parseTime(upd); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConversations(rows *sql.Rows) ([]models.Conversation, error) {
	defer rows.Close()
	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type messageRepo struct{ db *sql.DB }

func (r *messageRepo) Create(ctx context.Context, m *models.Message) error {
	var md any
	if len(m.Metadata) > 0 {
		md = string(m.Metadata)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, md, formatTime(m.CreateTime), formatTime(m.UpdateTime))
	return translate(err)
}

func (r *messageRepo) ListOrdered(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, create_time, update_time
		 FROM messages WHERE conversation_id = ? ORDER BY create_time ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m            models.Message
			role         string
			md           sql.NullString
			created, upd string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &md, &created, &upd); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if md.Valid {
			m.Metadata = datatypes.JSON(md.String)
		}
		if m.CreateTime, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.UpdateTime, err = parseTime(upd); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type journalRepo struct{ db *sql.DB }

const journalCols = `id, user_id, conversation_id, content, mood, sentiment_score, create_time, update_time`

func (r *journalRepo) Create(ctx context.Context, j *models.JournalEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO journals (`+journalCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.ConversationID, j.Content, j.Mood, j.SentimentScore,
		formatTime(j.CreateTime), formatTime(j.UpdateTime))
	return translate(err)
}

func (r *journalRepo) GetForUser(ctx context.Context, userID, id string) (*models.JournalEntry, error) {
	return scanJournal(r.db.QueryRowContext(ctx,
		`SELECT `+journalCols+` FROM journals WHERE id = ? AND user_id = ?`, id, userID))
}

func (r *journalRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.JournalEntry, error) {
	limit, offset = repositories.Page(limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+journalCols+` FROM journals WHERE user_id = ? ORDER BY create_time DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.JournalEntry
	for rows.Next() {
		j, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *journalRepo) Update(ctx context.Context, j *models.JournalEntry) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE journals SET content = ?, mood = ?, update_time = ? WHERE id = ? AND user_id = ?`,
		j.Content, j.Mood, formatTime(j.UpdateTime), j.ID, j.UserID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *journalRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM journals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanJournal(row scanner) (*models.JournalEntry, error) {
	var (
		j            models.JournalEntry
		created, upd string
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.ConversationID, &j.Content, &j.Mood, &j.SentimentScore, &created, &upd); err != nil {
		return nil, translate(err)
	}
	var err error
	if j.CreateTime, err = parseTime(created); err != nil {
		return nil, err
	}
	if j.UpdateTime, err = parseTime(upd); err != nil {
		return nil, err
	}
	return &j, nil
}

type corpusDocumentRepo struct{ db *sql.DB }

func (r *corpusDocumentRepo) Insert(ctx context.Context, d *models.CorpusDocument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO corpus_documents (id, uploaded_by, file_name, file_path, file_size, mime_type, upload_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UploadedBy, d.FileName, d.FilePath, d.FileSize, d.MimeType, formatTime(d.UploadAt))
	return translate(err)
}

func (r *corpusDocumentRepo) List(ctx context.Context, limit int) ([]models.CorpusDocument, error) {
	limit, _ = repositories.Page(limit, 0)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, uploaded_by, file_name, file_path, file_size, mime_type, upload_at
		 FROM corpus_documents ORDER BY upload_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CorpusDocument
	for rows.Next() {
		var (
			d  models.CorpusDocument
			at string
		)
		if err := rows.Scan(&d.ID, &d.UploadedBy, &d.FileName, &d.FilePath, &d.FileSize, &d.MimeType, &at); err != nil {
			return nil, err
		}
		if d.UploadAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
