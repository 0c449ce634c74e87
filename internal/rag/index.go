package rag

import "context"

// Index is a nearest-neighbor store over document embeddings. Search
// returns at most k results ordered by descending similarity.
type Index interface {
	Add(ctx context.Context, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error)
	Len(ctx context.Context) (int, error)
}

// Persister is implemented by indexes that keep their data in process
// memory and need an on-disk snapshot.
type Persister interface {
	Save(dir string) error
}
