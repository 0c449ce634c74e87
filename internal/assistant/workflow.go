package assistant

import (
	"context"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/providers/llm"
	"github.com/mindpal/backend/internal/rag"
	"github.com/sirupsen/logrus"
)

const DefaultTopK = 3

// Retriever returns the k chunks most similar to question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]rag.ScoredDocument, error)
}

type WorkflowConfig struct {
	// RetrievalEnabled toggles the RetrieveContext stage. When off the
	// workflow goes straight to GenerateReply with an empty context.
	RetrievalEnabled bool
	TopK             int
}

// Workflow runs one turn: RetrieveContext -> GenerateReply -> Done.
type Workflow struct {
	provider  llm.Provider
	retriever Retriever
	cfg       WorkflowConfig
	logger    logrus.FieldLogger
}

func NewWorkflow(provider llm.Provider, retriever Retriever, cfg WorkflowConfig, logger logrus.FieldLogger) *Workflow {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Workflow{provider: provider, retriever: retriever, cfg: cfg, logger: logger}
}

func (w *Workflow) RetrievalEnabled() bool { return w.cfg.RetrievalEnabled && w.retriever != nil }

// Turn is a running GenerateReply stage. Chunks carries every non-empty
// chunk in order and is closed when the stream ends; Errs delivers at most
// one error. The state's GenerationBuffer is complete once Chunks is closed.
type Turn struct {
	Chunks  <-chan string
	Errs    <-chan error
	Sources []string
}

// RetrieveContext fills st.RetrievedDocuments for st.PendingQuestion and
// returns the sources of the retrieved chunks. History is not touched.
func (w *Workflow) RetrieveContext(ctx context.Context, st *models.ConversationState) ([]string, error) {
	st.RetrievedDocuments = nil
	if !w.RetrievalEnabled() {
		return nil, nil
	}

	docs, err := w.retriever.Retrieve(ctx, st.PendingQuestion, w.cfg.TopK)
	if err != nil {
		return nil, err
	}

	var sources []string
	seen := map[string]bool{}
	for _, d := range docs {
		st.RetrievedDocuments = append(st.RetrievedDocuments, d.Content)
		if s := d.Source(); s != "" && !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// GenerateReply streams the model's answer. Each non-empty chunk is added
// to st.GenerationBuffer as it is handed to the caller, so the buffer always
// equals what the caller received. A provider error is reported only after
// the chunk channel closes. Cancelling ctx ends the stream early and leaves
// the partial buffer in place.
func (w *Workflow) GenerateReply(ctx context.Context, st *models.ConversationState) (<-chan string, <-chan error) {
	st.GenerationBuffer = ""
	prompt := FormatPrompt(PromptInput{
		History:  st.History,
		Context:  st.RetrievedDocuments,
		Question: st.PendingQuestion,
	})

	in, inErrs := w.provider.StreamAnswer(ctx, prompt)
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		// a provider error is held until the chunks it buffered before
		// failing have been delivered
		var streamErr error
		for in != nil || inErrs != nil {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunk, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				if chunk == "" {
					continue
				}
				select {
				case out <- chunk:
					st.GenerationBuffer += chunk
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			case err, ok := <-inErrs:
				if !ok {
					inErrs = nil
					continue
				}
				if err != nil && streamErr == nil {
					streamErr = err
				}
			}
		}
		switch {
		case streamErr != nil:
			errs <- streamErr
		case ctx.Err() != nil:
			errs <- ctx.Err()
		}
	}()
	return out, errs
}

// Run executes both stages for the question already set on st.
func (w *Workflow) Run(ctx context.Context, st *models.ConversationState) (*Turn, error) {
	sources, err := w.RetrieveContext(ctx, st)
	if err != nil {
		return nil, err
	}
	w.logger.WithFields(logrus.Fields{
		"conversation_id": st.ConversationID,
		"retrieved":       len(st.RetrievedDocuments),
	}).Debug("generating reply")

	chunks, errs := w.GenerateReply(ctx, st)
	return &Turn{Chunks: chunks, Errs: errs, Sources: sources}, nil
}
