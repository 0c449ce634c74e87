package assistant

import (
	"context"
	"strings"
	"sync"

	"github.com/mindpal/backend/internal/rag"
)

// scriptedProvider replays fixed chunks, then an optional error.
type scriptedProvider struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	complete map[string]string // substring of prompt -> reply
	prompts  []string
}

func (p *scriptedProvider) Complete(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	for k, v := range p.complete {
		if strings.Contains(prompt, k) {
			return v, nil
		}
	}
	return "", nil
}

func (p *scriptedProvider) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return out, errs
}

func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

type fakeRetriever struct {
	docs  []rag.ScoredDocument
	err   error
	calls int
	k     int
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]rag.ScoredDocument, error) {
	r.calls++
	r.k = k
	return r.docs, r.err
}

// bufferedProvider queues every chunk and the error before the consumer
// reads anything, like providers with a buffered chunk channel.
type bufferedProvider struct {
	chunks []string
	err    error
}

func (p bufferedProvider) Complete(context.Context, string) (string, error) { return "", p.err }

func (p bufferedProvider) StreamAnswer(context.Context, string) (<-chan string, <-chan error) {
	out := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	for _, c := range p.chunks {
		out <- c
	}
	if p.err != nil {
		errs <- p.err
	}
	close(out)
	close(errs)
	return out, errs
}

func (bufferedProvider) Close() error { return nil }
