package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/repositories/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) repositories.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))
	return sqlite.NewStore(db)
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newTestMetrics() *metrics.Metrics { return metrics.New(prometheus.NewRegistry()) }

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedLLM streams fixed chunks then an optional error. Complete answers
// with the first reply whose key occurs in the prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	replies map[string]string
	// gate, when set, is waited on before each chunk after the first
	gate    chan struct{}
	prompts []string
}

func (p *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.replies {
		if strings.Contains(prompt, k) {
			return v, nil
		}
	}
	return "", errors.New("no scripted reply")
}

func (p *scriptedLLM) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for i, c := range p.chunks {
			if i > 0 && p.gate != nil {
				select {
				case <-p.gate:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return out, errs
}

func (p *scriptedLLM) Close() error { return nil }

// failingConversations makes Create fail.
type failingConversations struct {
	repositories.ConversationRepository
}

func (failingConversations) Create(context.Context, *models.Conversation) error {
	return errors.New("database is down")
}
