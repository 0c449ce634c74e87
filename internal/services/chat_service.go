package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindpal/backend/internal/assistant"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/providers/stt"
	"github.com/mindpal/backend/internal/rag"
	"github.com/mindpal/backend/internal/repositories"
	mongorepo "github.com/mindpal/backend/internal/repositories/mongo"
	"github.com/mindpal/backend/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type ChatService interface {
	Start(ctx context.Context, userID string) (*models.Conversation, error)
	// SubmitTurn persists text as a user message and streams the reply.
	// The chunk channel closes after the assistant message (possibly
	// partial) has been stored; the error channel then yields at most one
	// error describing why the stream ended early.
	SubmitTurn(ctx context.Context, userID, conversationID, text string) (<-chan string, <-chan error, error)
	SubmitVoiceTurn(ctx context.Context, userID, conversationID string, audio []byte, language string) (string, <-chan string, <-chan error, error)
	End(ctx context.Context, userID, conversationID string) error
	History(ctx context.Context, userID, conversationID string) ([]models.Message, error)
	List(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error)
	Delete(ctx context.Context, userID, conversationID string) error
	Turns(ctx context.Context, userID, conversationID string, limit int64) ([]models.TurnRecord, error)
}

type ChatDeps struct {
	Store    repositories.Store
	Cache    *SessionCache
	Workflow *assistant.Workflow
	Turns    mongorepo.TurnRepository // optional
	STT      stt.Provider             // optional
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
	TurnTTL  time.Duration
}

type chatService struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	cache         *SessionCache
	workflow      *assistant.Workflow
	turns         mongorepo.TurnRepository
	stt           stt.Provider
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
	turnTTL       time.Duration
	gate          *turnGate
}

func NewChatService(d ChatDeps) ChatService {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.TurnTTL <= 0 {
		d.TurnTTL = 30 * 24 * time.Hour
	}
	return &chatService{
		conversations: d.Store.Conversations,
		messages:      d.Store.Messages,
		cache:         d.Cache,
		workflow:      d.Workflow,
		turns:         d.Turns,
		stt:           d.STT,
		metrics:       d.Metrics,
		logger:        d.Logger,
		turnTTL:       d.TurnTTL,
		gate:          newTurnGate(),
	}
}

type channelKey struct{}

// WithChannel labels turns submitted with ctx (http, ws, voice) in the
// turn telemetry.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

func channelOf(ctx context.Context) string {
	if v, ok := ctx.Value(channelKey{}).(string); ok && v != "" {
		return v
	}
	return "http"
}

func (s *chatService) Start(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := s.cache.Start(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "conversation_id": conv.ID}).Info("conversation started")
	return conv, nil
}

func (s *chatService) SubmitTurn(ctx context.Context, userID, conversationID, text string) (<-chan string, <-chan error, error) {
	const op = "ChatService.SubmitTurn"

	text = strings.TrimSpace(text)
	if userID == "" || conversationID == "" || text == "" {
		return nil, nil, utils.E(utils.CodeInvalidArgument, op, "user_id, conversation_id and a non-empty message are required", nil)
	}

	release, err := s.gate.Acquire(ctx, conversationID)
	if err != nil {
		return nil, nil, utils.E(utils.CodeTimeout, op, "gave up waiting for the previous turn", err)
	}

	// st is read before the question is appended, so the prompt carries the
	// question once, as the pending question, and not in the history too.
	st, err := s.cache.Get(ctx, userID, conversationID)
	if err != nil {
		release()
		return nil, nil, err
	}
	if _, err := s.cache.Append(ctx, conversationID, models.RoleUserMessage, text, nil); err != nil {
		release()
		return nil, nil, err
	}

	started := time.Now()
	log := s.logger.WithFields(logrus.Fields{"op": op, "user_id": userID, "conversation_id": conversationID})
	turnID := uuid.NewString()
	s.recordStart(ctx, &models.TurnRecord{
		TurnID:         turnID,
		ConversationID: conversationID,
		UserID:         userID,
		Question:       text,
		Channel:        channelOf(ctx),
		Status:         models.TurnProcessing,
		Timestamp:      started.UTC(),
		ExpiresAt:      started.UTC().Add(s.turnTTL),
	})

	st.PendingQuestion = text
	turn, err := s.workflow.Run(ctx, st)
	if err != nil {
		release()
		s.recordFinish(ctx, conversationID, turnID, models.TurnFailed, 0, 0, err, started)
		s.metrics.ChatTurn("failed", time.Since(started))
		log.WithError(err).Error("retrieval failed")
		if errors.Is(err, rag.ErrNotInitialized) {
			return nil, nil, err
		}
		return nil, nil, utils.E(utils.CodeUnavailable, op, "failed to retrieve context", err)
	}

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer release()

		forwarding := true
		count := 0
		for chunk := range turn.Chunks {
			count++
			if !forwarding {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				forwarding = false
			}
		}
		streamErr := <-turn.Errs

		// the caller may be gone; the reply is stored regardless
		bg := context.WithoutCancel(ctx)
		status := models.TurnDone
		switch {
		case streamErr != nil && st.GenerationBuffer == "":
			status = models.TurnFailed
		case streamErr != nil:
			status = models.TurnPartial
		}

		if st.GenerationBuffer != "" {
			meta, _ := json.Marshal(models.MessageMetadata{Partial: streamErr != nil, Sources: turn.Sources})
			if _, err := s.cache.Append(bg, conversationID, models.RoleAssistantMessage, st.GenerationBuffer, datatypes.JSON(meta)); err != nil {
				log.WithError(err).Error("failed to persist assistant message")
				status = models.TurnFailed
				if streamErr == nil {
					streamErr = err
				}
			}
		}

		s.recordFinish(bg, conversationID, turnID, status, count, len(st.GenerationBuffer), streamErr, started)
		s.metrics.ChatTurn(turnOutcome(status), time.Since(started))

		entry := log.WithFields(logrus.Fields{
			"status":        status,
			"chunks":        count,
			"response_len":  len(st.GenerationBuffer),
			"processing_ms": time.Since(started).Milliseconds(),
		})
		if streamErr != nil {
			entry.WithError(streamErr).Warn("chat turn ended early")
			errs <- utils.E(utils.CodeUnavailable, op, "reply stream interrupted", streamErr)
		} else {
			entry.Info("chat turn complete")
		}
		close(errs)
		close(out)
	}()
	return out, errs, nil
}

func turnOutcome(s models.TurnStatus) string {
	switch s {
	case models.TurnDone:
		return "complete"
	case models.TurnPartial:
		return "partial"
	default:
		return "failed"
	}
}

func (s *chatService) recordStart(ctx context.Context, rec *models.TurnRecord) {
	if s.turns == nil {
		return
	}
	if err := s.turns.Insert(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("conversation_id", rec.ConversationID).Warn("failed to record turn")
	}
}

func (s *chatService) recordFinish(ctx context.Context, conversationID, turnID string, status models.TurnStatus, chunks, chars int, turnErr error, started time.Time) {
	if s.turns == nil {
		return
	}
	msg := ""
	if turnErr != nil {
		msg = turnErr.Error()
	}
	if err := s.turns.Finish(ctx, conversationID, turnID, status, chunks, chars, msg, time.Since(started).Milliseconds()); err != nil {
		s.logger.WithError(err).WithField("conversation_id", conversationID).Warn("failed to finish turn record")
	}
}

func (s *chatService) SubmitVoiceTurn(ctx context.Context, userID, conversationID string, audio []byte, language string) (string, <-chan string, <-chan error, error) {
	const op = "ChatService.SubmitVoiceTurn"

	if s.stt == nil {
		return "", nil, nil, utils.E(utils.CodeFailedPrecondition, op, "speech recognition is not configured", nil)
	}
	if len(audio) == 0 {
		return "", nil, nil, utils.E(utils.CodeInvalidArgument, op, "audio is required", nil)
	}

	text, confidence, err := s.stt.Transcribe(ctx, audio, language)
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			return "", nil, nil, utils.E(utils.CodeInvalidArgument, op, "no speech recognized", err)
		}
		return "", nil, nil, utils.E(utils.CodeUnavailable, op, "speech recognition failed", err)
	}
	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"confidence":      confidence,
	}).Debug("voice turn transcribed")

	chunks, errs, err := s.SubmitTurn(WithChannel(ctx, "voice"), userID, conversationID, text)
	return text, chunks, errs, err
}

func (s *chatService) End(ctx context.Context, userID, conversationID string) error {
	const op = "ChatService.End"

	if _, err := s.owned(ctx, op, userID, conversationID); err != nil {
		return err
	}
	s.cache.End(conversationID)
	return nil
}

func (s *chatService) History(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	const op = "ChatService.History"

	if _, err := s.owned(ctx, op, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListOrdered(ctx, conversationID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list messages", err)
	}
	return msgs, nil
}

func (s *chatService) List(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	const op = "ChatService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	limit, offset = repositories.Page(limit, offset)
	rows, err := s.conversations.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *chatService) Delete(ctx context.Context, userID, conversationID string) error {
	const op = "ChatService.Delete"

	if userID == "" || conversationID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and conversation_id are required", nil)
	}
	if err := s.conversations.Delete(ctx, userID, conversationID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete conversation", err)
	}
	s.cache.End(conversationID)
	return nil
}

func (s *chatService) Turns(ctx context.Context, userID, conversationID string, limit int64) ([]models.TurnRecord, error) {
	const op = "ChatService.Turns"

	if s.turns == nil {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "turn telemetry is not configured", nil)
	}
	if _, err := s.owned(ctx, op, userID, conversationID); err != nil {
		return nil, err
	}
	out, err := s.turns.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list turns", err)
	}
	return out, nil
}

func (s *chatService) owned(ctx context.Context, op, userID, conversationID string) (*models.Conversation, error) {
	if userID == "" || conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and conversation_id are required", nil)
	}
	conv, err := s.conversations.GetForUser(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load conversation", err)
	}
	return conv, nil
}
