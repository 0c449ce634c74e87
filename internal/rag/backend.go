package rag

import (
	"context"
	"fmt"
	"time"
)

// Backend abstracts where an index lives and how it is persisted.
type Backend interface {
	Name() string
	// Load opens a previously persisted index. Errors wrap one of
	// ErrIndexDirMissing, ErrIndexFileMissing or ErrIndexCorrupt where the
	// cause is known.
	Load(ctx context.Context) (Index, error)
	// Create returns a fresh, empty staging index for vectors of size dim.
	// Writes to it must not be visible through the index currently served.
	Create(ctx context.Context, dim int) (Index, error)
	// Commit persists and publishes a populated staging index and returns
	// the index to serve from now on.
	Commit(ctx context.Context, staged Index) (Index, error)
}

// FlatBackend keeps the index in memory with a bbolt snapshot in Dir.
type FlatBackend struct{ Dir string }

func (b FlatBackend) Name() string { return "flat" }

func (b FlatBackend) Load(context.Context) (Index, error) { return LoadFlatIndex(b.Dir) }

func (b FlatBackend) Create(context.Context, int) (Index, error) { return NewFlatIndex(), nil }

func (b FlatBackend) Commit(_ context.Context, staged Index) (Index, error) {
	p, ok := staged.(Persister)
	if !ok {
		return nil, fmt.Errorf("flat backend: %T cannot be persisted", staged)
	}
	if err := p.Save(b.Dir); err != nil {
		return nil, err
	}
	return staged, nil
}

// PgVectorBackend is durable by itself; an absent or empty table counts as
// a missing index file. Rebuilds load a staging table that replaces the live
// one in a single transaction.
type PgVectorBackend struct{ Index *PgVectorIndex }

func (b PgVectorBackend) Name() string { return "pgvector" }

func (b PgVectorBackend) Load(ctx context.Context) (Index, error) {
	ok, err := b.Index.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: table %s", ErrIndexFileMissing, b.Index.table)
	}
	n, err := b.Index.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: table %s is empty", ErrIndexFileMissing, b.Index.table)
	}
	return b.Index, nil
}

func (b PgVectorBackend) Create(ctx context.Context, dim int) (Index, error) {
	staged := b.Index.staging()
	if err := staged.Reset(ctx, dim); err != nil {
		return nil, err
	}
	return staged, nil
}

func (b PgVectorBackend) Commit(ctx context.Context, staged Index) (Index, error) {
	st, ok := staged.(*PgVectorIndex)
	if !ok {
		return nil, fmt.Errorf("pgvector backend: unexpected staged index %T", staged)
	}
	if err := st.BuildANN(ctx); err != nil {
		return nil, err
	}
	if err := b.Index.replaceWith(ctx, st); err != nil {
		return nil, err
	}
	return b.Index, nil
}

// QdrantBackend treats an absent or empty collection as a missing index file.
// The served name is an alias; rebuilds fill a new collection and move the
// alias to it.
type QdrantBackend struct{ Index *QdrantIndex }

func (b QdrantBackend) Name() string { return "qdrant" }

func (b QdrantBackend) Load(ctx context.Context) (Index, error) {
	ok, err := b.Index.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", ErrIndexFileMissing, b.Index.collection)
	}
	n, err := b.Index.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: collection %s is empty", ErrIndexFileMissing, b.Index.collection)
	}
	return b.Index, nil
}

func (b QdrantBackend) Create(ctx context.Context, dim int) (Index, error) {
	if err := b.Index.dropStaging(ctx); err != nil {
		return nil, err
	}
	staged := b.Index.staging(time.Now())
	if err := staged.Reset(ctx, dim); err != nil {
		return nil, err
	}
	return staged, nil
}

func (b QdrantBackend) Commit(ctx context.Context, staged Index) (Index, error) {
	st, ok := staged.(*QdrantIndex)
	if !ok {
		return nil, fmt.Errorf("qdrant backend: unexpected staged index %T", staged)
	}
	if err := b.Index.pointAliasAt(ctx, st.collection); err != nil {
		return nil, err
	}
	return b.Index, nil
}
