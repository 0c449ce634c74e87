package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guide = `Sleep hygiene means keeping a regular schedule.

Breathing exercises slow the heart rate. Try four counts in and six out.

Grounding: name five things you can see and four you can touch.`

func countingSource(calls *int32) CorpusSource {
	return func(context.Context) ([]Document, error) {
		atomic.AddInt32(calls, 1)
		return []Document{{Content: guide, Metadata: map[string]any{"source": "guide.txt"}}}, nil
	}
}

func newTestManager(t *testing.T, dir string, src CorpusSource) (*Manager, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	sp, err := NewRecursiveSplitter(80, 20, nil)
	require.NoError(t, err)
	return NewManager(FlatBackend{Dir: dir}, src, sp, &letterEmbedder{}, logger), hook
}

func causeLogged(hook *test.Hook) string {
	for _, e := range hook.AllEntries() {
		if c, ok := e.Data["cause"].(string); ok {
			return c
		}
	}
	return ""
}

func TestManagerRetrieveBeforeOpen(t *testing.T) {
	var calls int32
	m, _ := newTestManager(t, t.TempDir(), countingSource(&calls))

	_, err := m.Retrieve(context.Background(), "sleep", 3)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, m.Stats(context.Background()).Ready)
}

func TestManagerRebuildsWhenDirectoryMissing(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	var calls int32
	m, hook := newTestManager(t, dir, countingSource(&calls))

	require.NoError(t, m.Open(ctx))
	assert.Equal(t, "missing_directory", causeLogged(hook))
	assert.EqualValues(t, 1, calls)
	assert.FileExists(t, filepath.Join(dir, IndexFileName))

	st := m.Stats(ctx)
	assert.True(t, st.Ready)
	assert.Equal(t, "rebuilt", st.Origin)
	assert.Equal(t, "flat", st.Backend)
	assert.Greater(t, st.Documents, 1)

	got, err := m.Retrieve(ctx, "breathing exercises", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)
	assert.Equal(t, "guide.txt", got[0].Source())
}

func TestManagerLoadsExistingSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	var calls int32

	first, _ := newTestManager(t, dir, countingSource(&calls))
	require.NoError(t, first.Open(ctx))
	want, err := first.Retrieve(ctx, "grounding", 2)
	require.NoError(t, err)

	second, hook := newTestManager(t, dir, countingSource(&calls))
	require.NoError(t, second.Open(ctx))
	assert.EqualValues(t, 1, calls, "corpus must not be re-read")
	assert.Empty(t, causeLogged(hook))
	assert.Equal(t, "loaded", second.Stats(ctx).Origin)

	got, err := second.Retrieve(ctx, "grounding", 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestManagerRebuildsMissingFileAndCorruptSnapshot(t *testing.T) {
	ctx := context.Background()

	empty := t.TempDir()
	var calls int32
	m, hook := newTestManager(t, empty, countingSource(&calls))
	require.NoError(t, m.Open(ctx))
	assert.Equal(t, "missing_index_file", causeLogged(hook))

	broken := t.TempDir()
	garbage := []byte(strings.Repeat("corrupted ", 2048))
	require.NoError(t, os.WriteFile(filepath.Join(broken, IndexFileName), garbage, 0o600))
	m, hook = newTestManager(t, broken, countingSource(&calls))
	require.NoError(t, m.Open(ctx))
	assert.Equal(t, "deserialization_failure", causeLogged(hook))
	assert.EqualValues(t, 2, calls)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	// the rebuilt snapshot replaced the corrupt one
	_, err := LoadFlatIndex(broken)
	assert.NoError(t, err)
}

func TestManagerOpenFailsWhenRebuildFails(t *testing.T) {
	ctx := context.Background()

	m, _ := newTestManager(t, t.TempDir(), func(context.Context) ([]Document, error) {
		return nil, errors.New("bucket unreachable")
	})
	assert.Error(t, m.Open(ctx))

	m, _ = newTestManager(t, t.TempDir(), func(context.Context) ([]Document, error) { return nil, nil })
	assert.Error(t, m.Open(ctx))

	_, err := m.Retrieve(ctx, "anything", 3)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManagerReloadSwapsIndex(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	var calls int32
	fail := false
	src := func(ctx context.Context) ([]Document, error) {
		if fail {
			return nil, errors.New("bucket unreachable")
		}
		return countingSource(&calls)(ctx)
	}

	seed, _ := newTestManager(t, dir, countingSource(&calls))
	require.NoError(t, seed.Open(ctx))

	m, _ := newTestManager(t, dir, src)
	require.NoError(t, m.Open(ctx))
	assert.Equal(t, "loaded", m.Stats(ctx).Origin)

	require.NoError(t, m.Reload(ctx))
	assert.EqualValues(t, 2, calls)
	assert.Equal(t, "rebuilt", m.Stats(ctx).Origin)

	fail = true
	assert.Error(t, m.Reload(ctx))
	assert.True(t, m.Stats(ctx).Ready, "failed reload keeps the previous index")
	_, err := m.Retrieve(ctx, "sleep", 1)
	assert.NoError(t, err)
}

// stagingBackend keeps one served index and builds rebuilds beside it.
type stagingBackend struct {
	live      Index
	staged    []Index
	commitErr error
	committed int
}

func (b *stagingBackend) Name() string { return "staging" }

func (b *stagingBackend) Load(context.Context) (Index, error) {
	if b.live == nil {
		return nil, ErrIndexFileMissing
	}
	return b.live, nil
}

func (b *stagingBackend) Create(context.Context, int) (Index, error) {
	idx := NewFlatIndex()
	b.staged = append(b.staged, idx)
	return idx, nil
}

func (b *stagingBackend) Commit(_ context.Context, staged Index) (Index, error) {
	if b.commitErr != nil {
		return nil, b.commitErr
	}
	b.committed++
	b.live = staged
	return staged, nil
}

func TestManagerFailedCommitKeepsServedIndex(t *testing.T) {
	ctx := context.Background()
	var calls int32
	backend := &stagingBackend{}
	logger, _ := test.NewNullLogger()
	sp, err := NewRecursiveSplitter(80, 20, nil)
	require.NoError(t, err)
	m := NewManager(backend, countingSource(&calls), sp, &letterEmbedder{}, logger)

	require.NoError(t, m.Open(ctx))
	require.Equal(t, 1, backend.committed)
	served := backend.live
	before, err := m.Retrieve(ctx, "breathing exercises", 3)
	require.NoError(t, err)
	readyAt := m.Stats(ctx).ReadyAt

	backend.commitErr = errors.New("alias switch rejected")
	require.Error(t, m.Reload(ctx))
	require.Len(t, backend.staged, 2)
	n, err := backend.staged[1].Len(ctx)
	require.NoError(t, err)
	assert.Positive(t, n, "rebuild was written to the staging index")

	assert.Same(t, served, backend.live)
	after, err := m.Retrieve(ctx, "breathing exercises", 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	st := m.Stats(ctx)
	assert.True(t, st.Ready)
	assert.Equal(t, "rebuilt", st.Origin)
	assert.Equal(t, readyAt, st.ReadyAt)
}
