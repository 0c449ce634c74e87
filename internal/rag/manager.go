package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mindpal/backend/internal/providers/embedding"
	"github.com/sirupsen/logrus"
)

// CorpusSource yields the raw documents to index.
type CorpusSource func(ctx context.Context) ([]Document, error)

// DirSource loads a file or directory from local disk.
func DirSource(path string) CorpusSource {
	return func(context.Context) ([]Document, error) { return LoadPath(path) }
}

type Stats struct {
	Backend   string    `json:"backend"`
	Ready     bool      `json:"ready"`
	Origin    string    `json:"origin,omitempty"` // loaded|rebuilt
	Documents int       `json:"documents"`
	ReadyAt   time.Time `json:"ready_at,omitempty"`
}

// Manager owns the process-wide index: it loads the persisted snapshot or
// rebuilds it from the corpus, then serves queries.
type Manager struct {
	backend  Backend
	source   CorpusSource
	splitter *RecursiveSplitter
	embedder embedding.Embedder
	logger   logrus.FieldLogger

	mu      sync.RWMutex
	idx     Index
	origin  string
	readyAt time.Time
}

func NewManager(backend Backend, source CorpusSource, splitter *RecursiveSplitter, embedder embedding.Embedder, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		backend:  backend,
		source:   source,
		splitter: splitter,
		embedder: embedder,
		logger:   logger.WithField("component", "vector_index"),
	}
}

// loadFailureCause names why a persisted index could not be used.
func loadFailureCause(err error) string {
	switch {
	case errors.Is(err, ErrIndexDirMissing):
		return "missing_directory"
	case errors.Is(err, ErrIndexFileMissing):
		return "missing_index_file"
	case errors.Is(err, ErrIndexCorrupt):
		return "deserialization_failure"
	default:
		return "load_error"
	}
}

// Open loads or rebuilds the index. Every load failure leads to a rebuild;
// only a failed rebuild is returned.
func (m *Manager) Open(ctx context.Context) error {
	log := m.logger.WithField("backend", m.backend.Name())

	idx, err := m.backend.Load(ctx)
	if err == nil {
		n, _ := idx.Len(ctx)
		log.WithField("documents", n).Info("loaded persisted index")
		m.set(idx, "loaded")
		return nil
	}
	log.WithError(err).WithField("cause", loadFailureCause(err)).Warn("persisted index unusable, rebuilding")

	idx, err = m.Rebuild(ctx)
	if err != nil {
		return err
	}
	m.set(idx, "rebuilt")
	return nil
}

// Reload rebuilds from the current corpus and swaps the new index in. The
// old index keeps serving queries until the swap and stays in place if the
// rebuild fails.
func (m *Manager) Reload(ctx context.Context) error {
	idx, err := m.Rebuild(ctx)
	if err != nil {
		return err
	}
	m.set(idx, "rebuilt")
	return nil
}

// Rebuild ingests the corpus into a new index and persists it.
func (m *Manager) Rebuild(ctx context.Context) (Index, error) {
	start := time.Now()

	raw, err := m.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	chunks := m.splitter.SplitDocuments(raw)
	if len(chunks) == 0 {
		return nil, errors.New("corpus produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vecs) != len(chunks) || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	staged, err := m.backend.Create(ctx, len(vecs[0]))
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := staged.Add(ctx, chunks, vecs); err != nil {
		return nil, fmt.Errorf("populate index: %w", err)
	}
	idx, err := m.backend.Commit(ctx, staged)
	if err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"backend":     m.backend.Name(),
		"source_docs": len(raw),
		"chunks":      len(chunks),
		"took_ms":     time.Since(start).Milliseconds(),
	}).Info("index rebuilt")
	return idx, nil
}

func (m *Manager) set(idx Index, origin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx = idx
	m.origin = origin
	m.readyAt = time.Now().UTC()
}

func (m *Manager) index() (Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.idx == nil {
		return nil, ErrNotInitialized
	}
	return m.idx, nil
}

// Search queries with an already embedded vector.
func (m *Manager) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	idx, err := m.index()
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, vector, k)
}

// Retrieve embeds question and returns the top k chunks.
func (m *Manager) Retrieve(ctx context.Context, question string, k int) ([]ScoredDocument, error) {
	idx, err := m.index()
	if err != nil {
		return nil, err
	}
	vec, err := m.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return idx.Search(ctx, vec, k)
}

func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.RLock()
	idx, origin, at := m.idx, m.origin, m.readyAt
	m.mu.RUnlock()

	st := Stats{Backend: m.backend.Name(), Ready: idx != nil, Origin: origin, ReadyAt: at}
	if idx != nil {
		st.Documents, _ = idx.Len(ctx)
	}
	return st
}
