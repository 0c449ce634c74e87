package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/config"
	"github.com/mindpal/backend/internal/api/handlers"
	"github.com/mindpal/backend/internal/assistant"
	"github.com/mindpal/backend/internal/auth"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/repositories/sqlite"
	"github.com/mindpal/backend/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedLLM streams a fixed reply and answers every completion with a
// journal.
type cannedLLM struct{}

func (cannedLLM) Complete(context.Context, string) (string, error) {
	return `{"journal_content":"I talked through a stressful day.","mood":"calm","sentiment_score":0.3}`, nil
}

func (cannedLLM) StreamAnswer(context.Context, string) (<-chan string, <-chan error) {
	out := make(chan string, 2)
	errs := make(chan error, 1)
	out <- "Hello"
	out <- ", friend"
	close(out)
	close(errs)
	return out, errs
}

func (cannedLLM) Close() error { return nil }

type app struct {
	t *testing.T
	r *gin.Engine
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := config.InitSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db))
	store := sqlite.NewStore(db)

	log, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tokens, err := auth.NewIssuer(auth.Config{AccessSecret: "access-secret", RefreshSecret: "refresh-secret"})
	require.NoError(t, err)

	provider := cannedLLM{}
	cache := services.NewSessionCache(store, services.SessionCacheConfig{TTL: time.Minute, MaxSize: 10}, m, log)
	chat := services.NewChatService(services.ChatDeps{
		Store:    store,
		Cache:    cache,
		Workflow: assistant.NewWorkflow(provider, nil, assistant.WorkflowConfig{}, log),
		Metrics:  m,
		Logger:   log,
	})
	maker, err := assistant.NewJournalMaker(provider)
	require.NoError(t, err)
	journals := services.NewJournalService(store, maker, m, log)

	r := gin.New()
	RegisterRoutes(r, Deps{
		Tokens:   tokens,
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		Auth:     handlers.NewAuthHandler(services.NewAuthService(store.Users, tokens)),
		Chat:     handlers.NewChatHandler(chat),
		Journal:  handlers.NewJournalHandler(journals, nil),
		Admin:    handlers.NewAdminHandler(nil, services.NewCorpusService(store.Documents, nil, "corpus/")),
		WS:       handlers.NewWSHandler(chat, nil, nil, log),
	})
	return &app{t: t, r: r}
}

type recorder struct {
	*httptest.ResponseRecorder
}

func (recorder) CloseNotify() <-chan bool { return make(chan bool) }

func (a *app) do(method, path, token, contentType, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := recorder{httptest.NewRecorder()}
	a.r.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func (a *app) decode(w *httptest.ResponseRecorder, dst any) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestAuthFlow(t *testing.T) {
	a := newApp(t)

	w := a.do(http.MethodPost, "/auth/register", "", "application/json",
		`{"name":"Ana","email":"Ana@Example.com","password":"supersecret","dob":"1990-05-01"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "supersecret")
	assert.Contains(t, w.Body.String(), `"email":"ana@example.com"`)

	w = a.do(http.MethodPost, "/auth/register", "", "application/json",
		`{"name":"Ana","email":"ana@example.com","password":"supersecret"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, "/auth/register", "", "application/json",
		`{"name":"Bo","email":"bo@example.com","password":"supersecret","dob":"01/05/1990"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/auth/login", "", "application/json", `{"email":"ana@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	form := url.Values{"username": {"ana@example.com"}, "password": {"supersecret"}}.Encode()
	w = a.do(http.MethodPost, "/auth/login", "", "application/x-www-form-urlencoded", form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pair auth.TokenPair
	a.decode(w, &pair)
	assert.Equal(t, "bearer", pair.TokenType)

	w = a.do(http.MethodGet, "/auth/user", pair.AccessToken, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Ana"`)

	w = a.do(http.MethodGet, "/auth/refresh", pair.AccessToken, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access token is not a refresh token")

	w = a.do(http.MethodGet, "/auth/refresh", pair.RefreshToken, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var next auth.TokenPair
	a.decode(w, &next)
	assert.NotEmpty(t, next.AccessToken)

	w = a.do(http.MethodGet, "/auth/user", pair.RefreshToken, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func (a *app) login() string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/auth/register", "", "application/json",
		`{"name":"Ana","email":"ana@example.com","password":"supersecret"}`)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	w = a.do(http.MethodPost, "/auth/login", "", "application/json", `{"email":"ana@example.com","password":"supersecret"}`)
	require.Equal(a.t, http.StatusOK, w.Code)
	var pair auth.TokenPair
	a.decode(w, &pair)
	return pair.AccessToken
}

func TestChatAndJournalFlow(t *testing.T) {
	a := newApp(t)
	token := a.login()

	w := a.do(http.MethodGet, "/chat/start", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, "/chat/start", token, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var conv struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	a.decode(w, &conv)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "New chat", conv.Title)

	w = a.do(http.MethodPost, "/chat/"+conv.ID+"/message", token, "application/json", `{"content":"rough day at work"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "data:Hello\n\n")
	assert.Contains(t, w.Body.String(), `data:{"full_response":"Hello, friend"}`)

	w = a.do(http.MethodGet, "/chat/"+conv.ID, token, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Items []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"items"`
	}
	a.decode(w, &hist)
	require.Len(t, hist.Items, 2)
	assert.Equal(t, "user", hist.Items[0].Role)
	assert.Equal(t, "rough day at work", hist.Items[0].Content)
	assert.Equal(t, "assistant", hist.Items[1].Role)
	assert.Equal(t, "Hello, friend", hist.Items[1].Content)

	w = a.do(http.MethodGet, "/chat/conversations?limit=10", token, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), conv.ID)

	w = a.do(http.MethodPost, "/journal/generate_missing", token, "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var gen struct {
		Result services.BatchResult `json:"result"`
	}
	a.decode(w, &gen)
	assert.Equal(t, []string{conv.ID}, gen.Result.Created)

	w = a.do(http.MethodPost, "/journal/generate_missing", token, "", "")
	assert.Contains(t, w.Body.String(), "All journals are up to date.")

	w = a.do(http.MethodGet, "/journal/", token, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []struct {
		ID      string `json:"id"`
		Mood    string `json:"mood"`
		Content string `json:"content"`
	}
	a.decode(w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "calm", entries[0].Mood)

	w = a.do(http.MethodPut, "/journal/"+entries[0].ID, token, "application/json", `{"content":"Edited by me."}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Edited by me.")

	w = a.do(http.MethodDelete, "/chat/delete/"+conv.ID, token, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, "/chat/"+conv.ID, token, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/admin/index/stats", token, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPingAndMetrics(t *testing.T) {
	a := newApp(t)

	w := a.do(http.MethodGet, "/ping", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = a.do(http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `mindpal_http_requests_total{method="GET",path="/ping",status="200"} 1`)
}
