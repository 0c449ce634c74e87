package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatRouter(chat *fakeChat, userID string) *gin.Engine {
	r := gin.New()
	h := NewChatHandler(chat)
	g := r.Group("/chat", asUser(userID, "user"))
	g.GET("/start", h.Start)
	g.GET("/conversations", h.Conversations)
	g.GET("/:conversation_id", h.History)
	g.GET("/:conversation_id/turns", h.Turns)
	g.POST("/:conversation_id/message", h.Message)
	g.POST("/:conversation_id/voice", h.Voice)
	g.POST("/:conversation_id/end", h.End)
	g.DELETE("/delete/:conversation_id", h.Delete)
	return r
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeAPIError(t *testing.T, body []byte) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestChatMessageStreamsEvents(t *testing.T) {
	chat := &fakeChat{chunks: []string{"Hello", ", world"}}
	w := serve(chatRouter(chat, "u1"), postJSON("/chat/c1/message", `{"content":"hi there"}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"))

	body := w.Body.String()
	first := strings.Index(body, "event:message\ndata:Hello\n\n")
	second := strings.Index(body, "event:message\ndata:, world\n\n")
	done := strings.Index(body, `event:done`+"\n"+`data:{"full_response":"Hello, world"}`)
	require.GreaterOrEqual(t, first, 0, body)
	assert.Greater(t, second, first)
	assert.Greater(t, done, second)
	assert.NotContains(t, body, "event:error")
	assert.Equal(t, []string{"hi there"}, chat.submitted)
}

func TestChatMessageReportsInterruptedStream(t *testing.T) {
	chat := &fakeChat{
		chunks:    []string{"partial"},
		streamErr: utils.E(utils.CodeUnavailable, "ChatService.SubmitTurn", "reply stream interrupted", errors.New("eof")),
	}
	w := serve(chatRouter(chat, "u1"), postJSON("/chat/c1/message", `{"content":"hi"}`))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	errAt := strings.Index(body, "event:error")
	require.GreaterOrEqual(t, errAt, 0, body)
	assert.Contains(t, body, `"code":"UNAVAILABLE"`)
	assert.Contains(t, body, `"message":"reply stream interrupted"`)
	assert.Greater(t, strings.Index(body, `data:{"full_response":"partial"}`), errAt)
}

func TestChatMessageErrorsBeforeStreaming(t *testing.T) {
	chat := &fakeChat{chunks: []string{"x"}}
	r := chatRouter(chat, "u1")

	t.Run("unknown conversation", func(t *testing.T) {
		w := serve(r, postJSON("/chat/other/message", `{"content":"hi"}`))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, utils.CodeNotFound, decodeAPIError(t, w.Body.Bytes()).Code)
	})
	t.Run("another user's conversation", func(t *testing.T) {
		w := serve(chatRouter(chat, "u2"), postJSON("/chat/c1/message", `{"content":"hi"}`))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("bad body", func(t *testing.T) {
		w := serve(r, postJSON("/chat/c1/message", `{"content":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, utils.CodeInvalidArgument, decodeAPIError(t, w.Body.Bytes()).Code)
	})
	t.Run("empty message", func(t *testing.T) {
		w := serve(r, postJSON("/chat/c1/message", `{"content":""}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	assert.Empty(t, chat.submitted)
}

func TestChatHistoryStartEndDelete(t *testing.T) {
	chat := &fakeChat{}
	r := chatRouter(chat, "u1")

	w := serve(r, httptest.NewRequest(http.MethodGet, "/chat/start", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)
	assert.Contains(t, w.Body.String(), `"title":"New chat"`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/chat/c1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		CID   string `json:"cid"`
		Items []struct {
			Content string `json:"content"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, "c1", hist.CID)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, "earlier", hist.Items[0].Content)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/chat/c1/end", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"c1"}, chat.ended)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/chat/delete/c1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodDelete, "/chat/delete/c9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/chat/c1/turns", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, utils.CodeFailedPrecondition, decodeAPIError(t, w.Body.Bytes()).Code)
}

func TestChatConversationsPaging(t *testing.T) {
	r := chatRouter(&fakeChat{}, "u1")

	w := serve(r, httptest.NewRequest(http.MethodGet, "/chat/conversations?limit=5&offset=10", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w = serve(r, httptest.NewRequest(http.MethodGet, "/chat/conversations?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func voiceRequest(t *testing.T, field string, audio []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write(audio)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "en"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat/c1/voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestChatVoiceTranscribesThenStreams(t *testing.T) {
	chat := &fakeChat{chunks: []string{"Rest helps."}, transcript: "I feel tired"}
	r := chatRouter(chat, "u1")

	w := serve(r, voiceRequest(t, "audio", []byte("RIFF....WAVE")))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	tr := strings.Index(body, "event:transcript")
	require.GreaterOrEqual(t, tr, 0, body)
	assert.Contains(t, body, `"text":"I feel tired"`)
	assert.Greater(t, strings.Index(body, "data:Rest helps."), tr)
	assert.Contains(t, body, `data:{"full_response":"Rest helps."}`)
	assert.Equal(t, []string{"I feel tired"}, chat.submitted)

	w = serve(r, voiceRequest(t, "file", []byte("RIFF")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
