package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) repositories.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestUsersUniqueEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &models.User{ID: "u1", Name: "Ana", Email: "ana@example.com", Password: "hash", CreatedAt: t0}
	require.NoError(t, s.Users.Create(ctx, u))

	dup := &models.User{ID: "u2", Email: "ana@example.com", Password: "hash", CreatedAt: t0}
	err := s.Users.Create(ctx, dup)
	assert.ErrorIs(t, err, utils.ErrConflict)

	got, err := s.Users.GetByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, models.RoleUser, got.Role)
	assert.True(t, got.CreatedAt.Equal(t0))

	_, err = s.Users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestMessagesOrderedChronologically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Conversations.Create(ctx, &models.Conversation{
		ID: "c1", UserID: "u1", Title: models.DefaultConversationTitle, CreateTime: t0, UpdateTime: t0,
	}))

	// insert out of order on purpose
	times := []time.Duration{2 * time.Second, 0, time.Second}
	contents := []string{"third", "first", "second"}
	for i := range times {
		ts := t0.Add(times[i])
		require.NoError(t, s.Messages.Create(ctx, &models.Message{
			ID: contents[i], ConversationID: "c1", Role: models.RoleUserMessage,
			Content: contents[i], CreateTime: ts, UpdateTime: ts,
		}))
	}

	msgs, err := s.Messages.ListOrdered(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestConversationScopingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, id := range []string{"c1", "c2"} {
		ts := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Conversations.Create(ctx, &models.Conversation{
			ID: id, UserID: "u1", Title: "New chat", CreateTime: ts, UpdateTime: ts,
		}))
	}
	require.NoError(t, s.Messages.Create(ctx, &models.Message{
		ID: "m1", ConversationID: "c1", Role: models.RoleUserMessage, Content: "hi", CreateTime: t0, UpdateTime: t0,
	}))

	_, err := s.Conversations.GetForUser(ctx, "intruder", "c1")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	require.NoError(t, s.Conversations.Touch(ctx, "c1", t0.Add(time.Hour)))
	list, err := s.Conversations.ListByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ID, "most recently updated first")

	assert.ErrorIs(t, s.Conversations.Delete(ctx, "intruder", "c1"), utils.ErrNotFound)
	require.NoError(t, s.Conversations.Delete(ctx, "u1", "c1"))

	msgs, err := s.Messages.ListOrdered(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConversationsWithoutJournal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, id := range []string{"c1", "c2", "c3"} {
		ts := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Conversations.Create(ctx, &models.Conversation{
			ID: id, UserID: "u1", Title: "New chat", CreateTime: ts, UpdateTime: ts,
		}))
	}
	require.NoError(t, s.Conversations.Create(ctx, &models.Conversation{
		ID: "other", UserID: "u2", Title: "New chat", CreateTime: t0, UpdateTime: t0,
	}))
	require.NoError(t, s.Journals.Create(ctx, &models.JournalEntry{
		ID: "j1", UserID: "u1", ConversationID: "c2", Content: "x", Mood: "calm", CreateTime: t0, UpdateTime: t0,
	}))

	got, err := s.Conversations.ListWithoutJournal(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c3"}, ids)

	err = s.Journals.Create(ctx, &models.JournalEntry{
		ID: "j2", UserID: "u1", ConversationID: "c2", CreateTime: t0, UpdateTime: t0,
	})
	assert.ErrorIs(t, err, utils.ErrConflict, "one journal per conversation")
}

func TestJournalCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	j := &models.JournalEntry{
		ID: "j1", UserID: "u1", ConversationID: "c1", Content: "felt okay",
		Mood: "calm", SentimentScore: 0.4, CreateTime: t0, UpdateTime: t0,
	}
	require.NoError(t, s.Journals.Create(ctx, j))

	j.Content = "felt better"
	j.Mood = "hopeful"
	j.UpdateTime = t0.Add(time.Hour)
	require.NoError(t, s.Journals.Update(ctx, j))

	got, err := s.Journals.GetForUser(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, "felt better", got.Content)
	assert.Equal(t, "hopeful", got.Mood)
	assert.InDelta(t, 0.4, got.SentimentScore, 1e-9)

	_, err = s.Journals.GetForUser(ctx, "u2", "j1")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	list, err := s.Journals.ListByUser(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Journals.Delete(ctx, "u1", "j1"))
	assert.ErrorIs(t, s.Journals.Delete(ctx, "u1", "j1"), utils.ErrNotFound)
}
