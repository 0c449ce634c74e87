package rag

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// IndexFileName is the snapshot file inside the index directory.
const IndexFileName = "index.db"

const snapshotVersion = "1"

var (
	bucketMeta    = []byte("meta")
	bucketDocs    = []byte("docs")
	bucketVectors = []byte("vectors")
)

// FlatIndex is an exact cosine-similarity index held in memory. Vectors are
// normalized on insert so a search is a dot product per entry.
type FlatIndex struct {
	mu   sync.RWMutex
	dim  int
	docs []Document
	vecs [][]float32
}

func NewFlatIndex() *FlatIndex { return &FlatIndex{} }

func (f *FlatIndex) Add(_ context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("flat index: %d documents but %d vectors", len(docs), len(vectors))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("flat index: empty vector at %d", i)
		}
		if f.dim == 0 {
			f.dim = len(v)
		}
		if len(v) != f.dim {
			return errDimension(f.dim, len(v))
		}
		f.docs = append(f.docs, docs[i])
		f.vecs = append(f.vecs, normalize(v))
	}
	return nil
}

func (f *FlatIndex) Search(_ context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vecs) == 0 {
		return nil, nil
	}
	if len(vector) != f.dim {
		return nil, errDimension(f.dim, len(vector))
	}

	q := normalize(vector)
	scored := make([]ScoredDocument, len(f.vecs))
	for i, v := range f.vecs {
		scored[i] = ScoredDocument{Document: f.docs[i], Score: dot(q, v)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func (f *FlatIndex) Len(context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.docs), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Save writes the index to dir/index.db. The file is written next to the
// target and renamed into place so readers never see a partial snapshot.
func (f *FlatIndex) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(dir, IndexFileName)
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	db, err := bolt.Open(tmp, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}

	f.mu.RLock()
	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		docs, err := tx.CreateBucket(bucketDocs)
		if err != nil {
			return err
		}
		vecs, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}

		for k, v := range map[string]string{
			"version":    snapshotVersion,
			"dim":        strconv.Itoa(f.dim),
			"count":      strconv.Itoa(len(f.docs)),
			"created_at": time.Now().UTC().Format(time.RFC3339),
		} {
			if err := meta.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		for i := range f.docs {
			key := seqKey(i)
			enc, err := json.Marshal(f.docs[i])
			if err != nil {
				return err
			}
			if err := docs.Put(key, enc); err != nil {
				return err
			}
			if err := vecs.Put(key, encodeVector(f.vecs[i])); err != nil {
				return err
			}
		}
		return nil
	})
	f.mu.RUnlock()

	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}

// LoadFlatIndex reads a snapshot written by Save. Failures wrap
// ErrIndexDirMissing, ErrIndexFileMissing or ErrIndexCorrupt.
func LoadFlatIndex(dir string) (*FlatIndex, error) {
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIndexDirMissing, dir)
	}
	p := filepath.Join(dir, IndexFileName)
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexFileMissing, p)
	}

	db, err := bolt.Open(p, 0o600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	defer func() { _ = db.Close() }()

	f := NewFlatIndex()
	err = db.View(func(tx *bolt.Tx) error {
		meta, docs, vecs := tx.Bucket(bucketMeta), tx.Bucket(bucketDocs), tx.Bucket(bucketVectors)
		if meta == nil || docs == nil || vecs == nil {
			return errors.New("missing bucket")
		}
		if v := string(meta.Get([]byte("version"))); v != snapshotVersion {
			return fmt.Errorf("unsupported snapshot version %q", v)
		}
		dim, err := strconv.Atoi(string(meta.Get([]byte("dim"))))
		if err != nil {
			return fmt.Errorf("dim: %w", err)
		}
		count, err := strconv.Atoi(string(meta.Get([]byte("count"))))
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}

		f.dim = dim
		c := docs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d Document
			dec := json.NewDecoder(bytes.NewReader(v))
			dec.UseNumber()
			if err := dec.Decode(&d); err != nil {
				return fmt.Errorf("doc %x: %w", k, err)
			}
			d.Metadata = fromJSONNumbers(d.Metadata)

			vec, err := decodeVector(vecs.Get(k))
			if err != nil {
				return fmt.Errorf("vector %x: %w", k, err)
			}
			if len(vec) != dim {
				return errDimension(dim, len(vec))
			}
			f.docs = append(f.docs, d)
			f.vecs = append(f.vecs, vec)
		}
		if len(f.docs) != count {
			return fmt.Errorf("snapshot declares %d entries, found %d", count, len(f.docs))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	return f, nil
}

func seqKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("bad vector length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func fromJSONNumbers(md map[string]any) map[string]any {
	for k, v := range md {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			md[k] = i
		} else if f, err := n.Float64(); err == nil {
			md[k] = f
		}
	}
	return md
}
