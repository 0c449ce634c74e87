// Package rag loads the document corpus, splits it into overlapping chunks
// and serves nearest-neighbor lookups over their embeddings.
package rag

import (
	"errors"
	"fmt"

	"github.com/mindpal/backend/internal/utils"
)

// Document is one retrievable chunk of source text.
type Document struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartIndex int            `json:"start_index"`
}

// Source returns the "source" metadata field, if any.
func (d Document) Source() string {
	if s, ok := d.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// CleanMetadata keeps only string, integer, float and bool values. Nested or
// structured values are dropped so every index backend can store the map.
func CleanMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		switch t := v.(type) {
		case string, bool, float64, int64:
			out[k] = t
		case float32:
			out[k] = float64(t)
		case int:
			out[k] = int64(t)
		case int32:
			out[k] = int64(t)
		case uint:
			out[k] = int64(t)
		case uint32:
			out[k] = int64(t)
		}
	}
	return out
}

var (
	// ErrNotInitialized is returned when the index is queried before it was
	// loaded or built.
	ErrNotInitialized = utils.E(utils.CodeFailedPrecondition, "rag", "vector index is not initialized", nil)

	// ErrIndexDirMissing, ErrIndexFileMissing and ErrIndexCorrupt are the
	// load failures that trigger a rebuild.
	ErrIndexDirMissing  = errors.New("index directory missing")
	ErrIndexFileMissing = errors.New("index file missing")
	ErrIndexCorrupt     = errors.New("index snapshot unreadable")
)

func errDimension(want, got int) error {
	return fmt.Errorf("vector dimension mismatch: index has %d, got %d", want, got)
}
