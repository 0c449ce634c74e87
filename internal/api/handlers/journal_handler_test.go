package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalRouter(svc *fakeJournals, queue JournalQueue) *gin.Engine {
	r := gin.New()
	h := NewJournalHandler(svc, queue)
	g := r.Group("/journal", asUser("u1", "user"))
	g.POST("/generate_missing", h.GenerateMissing)
	g.GET("/", h.List)
	g.GET("/:journal_id", h.Get)
	g.PUT("/:journal_id", h.Update)
	g.DELETE("/:journal_id", h.Delete)
	return r
}

func TestJournalGenerateMissingSync(t *testing.T) {
	svc := &fakeJournals{}
	w := serve(journalRouter(svc, nil), httptest.NewRequest(http.MethodPost, "/journal/generate_missing", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.calls)
	assert.JSONEq(t, `{"message":"Journals generated.","result":{"processed":1,"created":["c1"],"failed":[]}}`, w.Body.String())
}

func TestJournalGenerateMissingAsync(t *testing.T) {
	svc := &fakeJournals{}
	q := &fakeQueue{}
	w := serve(journalRouter(svc, q), httptest.NewRequest(http.MethodPost, "/journal/generate_missing?async=true", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"u1"}, q.users)
	assert.Zero(t, svc.calls)
	assert.Contains(t, w.Body.String(), `"job_id":"1-0"`)

	w = serve(journalRouter(svc, nil), httptest.NewRequest(http.MethodPost, "/journal/generate_missing?async=true", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, utils.CodeFailedPrecondition, decodeAPIError(t, w.Body.Bytes()).Code)
}

func TestJournalCRUD(t *testing.T) {
	svc := &fakeJournals{}
	r := journalRouter(svc, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/journal/?limit=500", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, svc.limit, "limit is capped")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/journal/j1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mood":"calm"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/journal/j2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/journal/j1", strings.NewReader(`{"mood":"hopeful"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mood":"hopeful"`)
	assert.Contains(t, w.Body.String(), `"content":"today"`)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/journal/j1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodDelete, "/journal/j2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
