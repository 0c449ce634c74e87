package llm

import (
	"context"
	"strings"
)

// Provider is a text-generation backend. Implementations must honour ctx
// cancellation on both calls.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// StreamAnswer delivers incremental text chunks. The chunk channel is
	// closed when the stream ends; at most one error is sent on errs, after
	// which both channels are closed.
	StreamAnswer(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	Close() error
}

// Collect drains a stream and returns the concatenated text. On error the
// text received so far is still returned.
func Collect(chunks <-chan string, errs <-chan error) (string, error) {
	var sb strings.Builder
	for c := range chunks {
		sb.WriteString(c)
	}
	return sb.String(), <-errs
}
