package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(chunks <-chan string, errs <-chan error) ([]string, error) {
	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	return got, <-errs
}

func TestOpenAICompatibleStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3.1", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hello", "", ", ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAICompatible(srv.URL+"/v1/", "k", "llama3.1", 0.7)
	got, err := drain(c.StreamAnswer(context.Background(), "hi"))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", ", "world"}, got)
}

func TestOpenAICompatibleStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAICompatible(srv.URL, "", "m", 0)
	got, err := drain(c.StreamAnswer(context.Background(), "hi"))

	assert.Empty(t, got)
	assert.ErrorContains(t, err, "503")
}

func TestOpenAICompatibleStreamBrokenEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer srv.Close()

	c := NewOpenAICompatible(srv.URL, "", "m", 0)
	got, err := drain(c.StreamAnswer(context.Background(), "hi"))

	assert.Equal(t, []string{"par"}, got)
	assert.Error(t, err)
}

func TestCollectKeepsPartialText(t *testing.T) {
	chunks := make(chan string, 2)
	errs := make(chan error, 1)
	chunks <- "I hear "
	chunks <- "you"
	close(chunks)
	errs <- context.Canceled
	close(errs)

	text, err := Collect(chunks, errs)
	assert.Equal(t, "I hear you", text)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAICompatibleComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "summarize", req.Messages[0].Content)
		}

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"mood\":\"calm\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompatible(srv.URL, "", "m", 0)
	out, err := c.Complete(context.Background(), "summarize")

	require.NoError(t, err)
	assert.Equal(t, `{"mood":"calm"}`, out)
}

func TestOpenAICompatibleCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompatible(srv.URL, "", "m", 0).Complete(context.Background(), "x")
	assert.ErrorContains(t, err, "no choices")
}
