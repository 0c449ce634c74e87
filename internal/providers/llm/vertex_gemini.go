package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

const defaultVertexModel = "gemini-1.5-flash"

// ErrBlocked is returned when Gemini stops a response on safety grounds.
var ErrBlocked = errors.New("vertex: response blocked by safety filters")

// VertexGemini serves completions from a Gemini model on Vertex AI.
type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string, temperature float32) (*VertexGemini, error) {
	if modelName == "" {
		modelName = defaultVertexModel
	}
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	m := c.GenerativeModel(modelName)
	m.SetTemperature(temperature)
	m.SetCandidateCount(1)
	return &VertexGemini{client: c, model: m}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// candidateText joins the text parts of the first candidate.
func candidateText(resp *vertexgenai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == vertexgenai.FinishReasonSafety {
		return "", ErrBlocked
	}
	if cand.Content == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(vertexgenai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}

func (v *VertexGemini) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := v.model.GenerateContent(ctx, vertexgenai.Text(prompt))
	if err != nil {
		return "", err
	}
	text, err := candidateText(resp)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("vertex: empty completion")
	}
	return text, nil
}

func (v *VertexGemini) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err == nil {
				var text string
				text, err = candidateText(resp)
				if err == nil && text != "" {
					select {
					case out <- text:
					case <-ctx.Done():
						err = ctx.Err()
					}
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	return out, errs
}
