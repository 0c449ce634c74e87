package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/rag"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/utils"
)

func init() { gin.SetMode(gin.TestMode) }

// asUser stands in for JWTAuth.
func asUser(id, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", id)
		c.Set("role", role)
		c.Next()
	}
}

// streamRecorder adds CloseNotify, which c.Stream requires.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func serve(r http.Handler, req *http.Request) *streamRecorder {
	w := newStreamRecorder()
	r.ServeHTTP(w, req)
	return w
}

var errNoConversation = utils.E(utils.CodeNotFound, "fake", "conversation not found", utils.ErrNotFound)

// fakeChat replays scripted chunks for conversation "c1" owned by "u1".
type fakeChat struct {
	mu         sync.Mutex
	chunks     []string
	streamErr  error
	submitted  []string
	ended      []string
	transcript string
}

func (f *fakeChat) calls() (submitted, ended []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...), append([]string(nil), f.ended...)
}

func (f *fakeChat) owns(userID, convID string) bool { return userID == "u1" && convID == "c1" }

func (f *fakeChat) Start(_ context.Context, userID string) (*models.Conversation, error) {
	return &models.Conversation{ID: "c1", UserID: userID, Title: models.DefaultConversationTitle}, nil
}

func (f *fakeChat) SubmitTurn(_ context.Context, userID, convID, text string) (<-chan string, <-chan error, error) {
	if !f.owns(userID, convID) {
		return nil, nil, errNoConversation
	}
	if text == "" {
		return nil, nil, utils.E(utils.CodeInvalidArgument, "fake", "empty message", nil)
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, text)
	f.mu.Unlock()

	out := make(chan string, len(f.chunks))
	errs := make(chan error, 1)
	for _, c := range f.chunks {
		out <- c
	}
	if f.streamErr != nil {
		errs <- f.streamErr
	}
	close(out)
	close(errs)
	return out, errs, nil
}

func (f *fakeChat) SubmitVoiceTurn(ctx context.Context, userID, convID string, audio []byte, _ string) (string, <-chan string, <-chan error, error) {
	if len(audio) == 0 {
		return "", nil, nil, utils.E(utils.CodeInvalidArgument, "fake", "audio is required", nil)
	}
	chunks, errs, err := f.SubmitTurn(ctx, userID, convID, f.transcript)
	return f.transcript, chunks, errs, err
}

func (f *fakeChat) End(_ context.Context, userID, convID string) error {
	if !f.owns(userID, convID) {
		return errNoConversation
	}
	f.mu.Lock()
	f.ended = append(f.ended, convID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) History(_ context.Context, userID, convID string) ([]models.Message, error) {
	if !f.owns(userID, convID) {
		return nil, errNoConversation
	}
	return []models.Message{{ID: "m1", ConversationID: convID, Role: models.RoleUserMessage, Content: "earlier"}}, nil
}

func (f *fakeChat) List(context.Context, string, int, int) ([]models.Conversation, error) {
	return []models.Conversation{}, nil
}

func (f *fakeChat) Delete(_ context.Context, userID, convID string) error {
	if !f.owns(userID, convID) {
		return errNoConversation
	}
	return nil
}

func (f *fakeChat) Turns(context.Context, string, string, int64) ([]models.TurnRecord, error) {
	return nil, utils.E(utils.CodeFailedPrecondition, "fake", "turn telemetry is not configured", nil)
}

var _ services.ChatService = (*fakeChat)(nil)

type fakeJournals struct {
	calls int
	limit int
}

func (f *fakeJournals) GenerateMissing(context.Context, string) (*services.BatchResult, error) {
	f.calls++
	return &services.BatchResult{Processed: 1, Created: []string{"c1"}, Failed: []string{}}, nil
}

func (f *fakeJournals) List(_ context.Context, _ string, limit, _ int) ([]models.JournalEntry, error) {
	f.limit = limit
	return []models.JournalEntry{}, nil
}

func (f *fakeJournals) Get(_ context.Context, _, id string) (*models.JournalEntry, error) {
	if id != "j1" {
		return nil, utils.E(utils.CodeNotFound, "fake", "journal entry not found", utils.ErrNotFound)
	}
	return &models.JournalEntry{ID: "j1", Content: "today", Mood: "calm"}, nil
}

func (f *fakeJournals) Update(ctx context.Context, userID, id string, content, mood *string) (*models.JournalEntry, error) {
	j, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if content != nil {
		j.Content = *content
	}
	if mood != nil {
		j.Mood = *mood
	}
	return j, nil
}

func (f *fakeJournals) Delete(ctx context.Context, userID, id string) error {
	_, err := f.Get(ctx, userID, id)
	return err
}

type fakeQueue struct{ users []string }

func (q *fakeQueue) Enqueue(_ context.Context, userID string) (string, error) {
	q.users = append(q.users, userID)
	return "1-0", nil
}

type fakeIndex struct {
	reloads int
	fail    error
}

func (f *fakeIndex) Stats(context.Context) rag.Stats {
	return rag.Stats{Backend: "flat", Ready: true, Origin: "loaded", Documents: 12}
}

func (f *fakeIndex) Reload(context.Context) error {
	f.reloads++
	return f.fail
}

type fakeCorpus struct {
	name, mime string
	body       []byte
}

func (f *fakeCorpus) Upload(_ context.Context, userID, fileName string, size int, mime string, r io.Reader) (*models.CorpusDocument, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.name, f.mime, f.body = fileName, mime, b
	return &models.CorpusDocument{ID: "d1", UploadedBy: userID, FileName: fileName, FileSize: size, MimeType: mime}, nil
}

func (f *fakeCorpus) List(context.Context, int) ([]models.CorpusDocument, error) {
	return []models.CorpusDocument{}, nil
}
