package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mindpal/backend/internal/assistant"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConversation(t *testing.T, store repositories.Store, userID string, at time.Time, lines ...string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, store.Conversations.Create(ctx, &models.Conversation{
		ID: id, UserID: userID, Title: models.DefaultConversationTitle, CreateTime: at, UpdateTime: at,
	}))
	for i, l := range lines {
		role := models.RoleUserMessage
		if i%2 == 1 {
			role = models.RoleAssistantMessage
		}
		ts := at.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Messages.Create(ctx, &models.Message{
			ID: uuid.NewString(), ConversationID: id, Role: role, Content: l, CreateTime: ts, UpdateTime: ts,
		}))
	}
	return id
}

func newJournalFixture(t *testing.T, llm *scriptedLLM) (repositories.Store, JournalService, *journalService) {
	t.Helper()
	store := newTestStore(t)
	maker, err := assistant.NewJournalMaker(llm)
	require.NoError(t, err)
	svc := NewJournalService(store, maker, newTestMetrics(), nullLogger())
	return store, svc, svc.(*journalService)
}

func TestGenerateMissingIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{replies: map[string]string{
		"user: work stress":  `{"journal_content":"Work has been stressful.","mood":"stressed","sentiment_score":-0.4}`,
		"user: slept well":   "```json\n{\"journal_content\":\"I slept well.\",\"mood\":\"rested\",\"sentiment_score\":0.7}\n```",
		"user: random topic": "I'm sorry, I can't produce JSON right now.",
	}}
	store, svc, impl := newJournalFixture(t, llm)

	t0 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ok1 := seedConversation(t, store, "u1", t0, "work stress", "That sounds tough.")
	bad := seedConversation(t, store, "u1", t0.Add(time.Hour), "random topic", "Sure.")
	ok2 := seedConversation(t, store, "u1", t0.Add(2*time.Hour), "slept well", "Great!")
	seedConversation(t, store, "u2", t0, "work stress", "Other user.")

	res, err := svc.GenerateMissing(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.ElementsMatch(t, []string{ok1, ok2}, res.Created)
	assert.Equal(t, []string{bad}, res.Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.metrics.JournalResultTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.metrics.JournalResultTotal.WithLabelValues("failed")))

	entries, err := svc.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byConv := map[string]models.JournalEntry{}
	for _, e := range entries {
		byConv[e.ConversationID] = e
	}
	assert.Equal(t, "stressed", byConv[ok1].Mood)
	assert.InDelta(t, -0.4, byConv[ok1].SentimentScore, 1e-9)
	assert.Equal(t, "I slept well.", byConv[ok2].Content)

	// the failed conversation is still eligible
	pending, err := store.Conversations.ListWithoutJournal(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bad, pending[0].ID)

	llm.replies["user: random topic"] = `{"journal_content":"A wandering chat.","mood":"curious"}`
	res, err = svc.GenerateMissing(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{bad}, res.Created)

	j, err := svc.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, j, 3)
}

func TestGenerateMissingSkipsEmptyConversations(t *testing.T) {
	store, svc, _ := newJournalFixture(t, &scriptedLLM{})
	empty := seedConversation(t, store, "u1", time.Now().UTC())

	res, err := svc.GenerateMissing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{empty}, res.Failed)
	assert.Empty(t, res.Created)
}

func TestGenerateMissingNothingToDo(t *testing.T) {
	_, svc, _ := newJournalFixture(t, &scriptedLLM{})
	res, err := svc.GenerateMissing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Failed)

	_, err = svc.GenerateMissing(context.Background(), "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestJournalCRUDIsUserScoped(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newJournalFixture(t, &scriptedLLM{})
	now := time.Now().UTC()
	entry := &models.JournalEntry{
		ID: uuid.NewString(), UserID: "u1", ConversationID: uuid.NewString(),
		Content: "original", Mood: "ok", CreateTime: now, UpdateTime: now,
	}
	require.NoError(t, store.Journals.Create(ctx, entry))

	_, err := svc.Get(ctx, "u2", entry.ID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	content, mood := "rewritten", " better "
	updated, err := svc.Update(ctx, "u1", entry.ID, &content, &mood)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", updated.Content)
	assert.Equal(t, "better", updated.Mood)

	got, err := svc.Get(ctx, "u1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Content)

	_, err = svc.Update(ctx, "u1", entry.ID, nil, nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	blank := "  "
	_, err = svc.Update(ctx, "u1", entry.ID, &blank, nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	assert.True(t, utils.IsCode(svc.Delete(ctx, "u2", entry.ID), utils.CodeNotFound))
	require.NoError(t, svc.Delete(ctx, "u1", entry.ID))
	_, err = svc.Get(ctx, "u1", entry.ID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}
