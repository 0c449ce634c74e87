package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindpal/backend/internal/assistant"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// BatchResult reports one GenerateMissing run. Failed conversations keep no
// journal and are picked up again by the next run.
type BatchResult struct {
	Processed int      `json:"processed"`
	Created   []string `json:"created"`
	Failed    []string `json:"failed"`
}

type JournalService interface {
	GenerateMissing(ctx context.Context, userID string) (*BatchResult, error)
	List(ctx context.Context, userID string, limit, offset int) ([]models.JournalEntry, error)
	Get(ctx context.Context, userID, journalID string) (*models.JournalEntry, error)
	Update(ctx context.Context, userID, journalID string, content, mood *string) (*models.JournalEntry, error)
	Delete(ctx context.Context, userID, journalID string) error
}

// Summarizer produces a journal from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, history []models.ChatMessage) (assistant.JournalResult, error)
}

type journalService struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	journals      repositories.JournalRepository
	maker         Summarizer
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewJournalService(store repositories.Store, maker Summarizer, m *metrics.Metrics, logger logrus.FieldLogger) JournalService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &journalService{
		conversations: store.Conversations,
		messages:      store.Messages,
		journals:      store.Journals,
		maker:         maker,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// GenerateMissing summarizes every conversation of userID that has no
// journal yet. A failure on one conversation is recorded in the result and
// does not stop the others; only failing to list the conversations is an
// error.
func (s *journalService) GenerateMissing(ctx context.Context, userID string) (*BatchResult, error) {
	const op = "JournalService.GenerateMissing"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	convs, err := s.conversations.ListWithoutJournal(ctx, userID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations without journal", err)
	}

	res := &BatchResult{Created: []string{}, Failed: []string{}}
	for _, c := range convs {
		if ctx.Err() != nil {
			return res, utils.E(utils.CodeTimeout, op, "batch interrupted", ctx.Err())
		}

		log := s.logger.WithFields(logrus.Fields{"op": op, "user_id": userID, "conversation_id": c.ID})
		res.Processed++
		if err := s.generateOne(ctx, userID, c.ID); err != nil {
			res.Failed = append(res.Failed, c.ID)
			log.WithError(err).Error("failed to generate journal")
			continue
		}
		res.Created = append(res.Created, c.ID)
		log.Info("journal created")
	}

	s.metrics.JournalResult("created", len(res.Created))
	s.metrics.JournalResult("failed", len(res.Failed))
	return res, nil
}

var errEmptyConversation = errors.New("conversation has no messages")

func (s *journalService) generateOne(ctx context.Context, userID, conversationID string) error {
	msgs, err := s.messages.ListOrdered(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errEmptyConversation
	}
	history := make([]models.ChatMessage, len(msgs))
	for i, m := range msgs {
		history[i] = models.ChatMessage{Role: m.Role, Content: m.Content}
	}

	res, err := s.maker.Summarize(ctx, history)
	if err != nil {
		return err
	}
	if res.Content == "" {
		return assistant.ErrMalformedJournal
	}

	now := s.now().UTC()
	return s.journals.Create(ctx, &models.JournalEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Content:        res.Content,
		Mood:           res.Mood,
		SentimentScore: res.SentimentScore,
		CreateTime:     now,
		UpdateTime:     now,
	})
}

func (s *journalService) List(ctx context.Context, userID string, limit, offset int) ([]models.JournalEntry, error) {
	const op = "JournalService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	limit, offset = repositories.Page(limit, offset)
	out, err := s.journals.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list journals", err)
	}
	return out, nil
}

func (s *journalService) Get(ctx context.Context, userID, journalID string) (*models.JournalEntry, error) {
	const op = "JournalService.Get"

	if userID == "" || journalID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and journal_id are required", nil)
	}
	j, err := s.journals.GetForUser(ctx, userID, journalID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "journal entry not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get journal", err)
	}
	return j, nil
}

// Update edits content and/or mood; nil leaves a field unchanged.
func (s *journalService) Update(ctx context.Context, userID, journalID string, content, mood *string) (*models.JournalEntry, error) {
	const op = "JournalService.Update"

	if content == nil && mood == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "content or mood is required", nil)
	}
	j, err := s.Get(ctx, userID, journalID)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if strings.TrimSpace(*content) == "" {
			return nil, utils.E(utils.CodeInvalidArgument, op, "content must not be empty", nil)
		}
		j.Content = *content
	}
	if mood != nil {
		j.Mood = strings.TrimSpace(*mood)
	}
	j.UpdateTime = s.now().UTC()

	if err := s.journals.Update(ctx, j); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "journal entry not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update journal", err)
	}
	return j, nil
}

func (s *journalService) Delete(ctx context.Context, userID, journalID string) error {
	const op = "JournalService.Delete"

	if userID == "" || journalID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and journal_id are required", nil)
	}
	if err := s.journals.Delete(ctx, userID, journalID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "journal entry not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete journal", err)
	}
	return nil
}
