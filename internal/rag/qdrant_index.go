package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex stores chunks as points in a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	batchSize  int
}

func NewQdrantClient(host string, port int) (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
}

func NewQdrantIndex(client *qdrant.Client, collection string) *QdrantIndex {
	return &QdrantIndex{client: client, collection: collection, batchSize: 256}
}

// Exists reports whether the served name resolves, either as an alias or as
// a plain collection.
func (q *QdrantIndex) Exists(ctx context.Context) (bool, error) {
	target, err := q.aliasTarget(ctx)
	if err != nil || target != "" {
		return target != "", err
	}
	return q.client.CollectionExists(ctx, q.collection)
}

func (q *QdrantIndex) aliasTarget(ctx context.Context) (string, error) {
	aliases, err := q.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == q.collection {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (q *QdrantIndex) stagingPrefix() string { return q.collection + "_v" }

// staging returns an index over a new, uniquely named collection.
func (q *QdrantIndex) staging(now time.Time) *QdrantIndex {
	return &QdrantIndex{
		client:     q.client,
		collection: fmt.Sprintf("%s%d", q.stagingPrefix(), now.UnixNano()),
		batchSize:  q.batchSize,
	}
}

// dropStaging removes collections left by earlier rebuilds that are not
// currently served.
func (q *QdrantIndex) dropStaging(ctx context.Context) error {
	target, err := q.aliasTarget(ctx)
	if err != nil {
		return err
	}
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range names {
		if name == target || !strings.HasPrefix(name, q.stagingPrefix()) {
			continue
		}
		if err := q.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("drop stale collection %s: %w", name, err)
		}
	}
	return nil
}

// pointAliasAt moves the served alias to collection in one alias update,
// then drops the collection it pointed at before.
func (q *QdrantIndex) pointAliasAt(ctx context.Context, collection string) error {
	prev, err := q.aliasTarget(ctx)
	if err != nil {
		return err
	}
	var ops []*qdrant.AliasOperations
	if prev != "" {
		ops = append(ops, qdrant.NewAliasDelete(q.collection))
	} else {
		// a plain collection under the served name predates aliasing
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			return err
		}
		if exists {
			if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
				return fmt.Errorf("drop collection %s: %w", q.collection, err)
			}
		}
	}
	ops = append(ops, qdrant.NewAliasCreate(q.collection, collection))
	if err := q.client.UpdateAliases(ctx, ops); err != nil {
		return fmt.Errorf("switch alias %s: %w", q.collection, err)
	}
	if prev != "" && prev != collection {
		if err := q.client.DeleteCollection(ctx, prev); err != nil {
			return fmt.Errorf("drop replaced collection %s: %w", prev, err)
		}
	}
	return nil
}

// Reset recreates the collection for cosine search over vectors of size dim.
func (q *QdrantIndex) Reset(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("drop collection %s: %w", q.collection, err)
		}
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *QdrantIndex) Add(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("qdrant: %d documents but %d vectors", len(docs), len(vectors))
	}
	for start := 0; start < len(docs); start += q.batchSize {
		end := start + q.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			payload := map[string]any{
				"content":     docs[i].Content,
				"start_index": int64(docs[i].StartIndex),
			}
			for k, v := range CleanMetadata(docs[i].Metadata) {
				payload["md_"+k] = v
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(uuid.NewString()),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		wait := true
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]ScoredDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredDocument{Document: payloadToDocument(h.GetPayload()), Score: h.GetScore()})
	}
	return out, nil
}

func (q *QdrantIndex) Len(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection, Exact: &exact})
	return int(n), err
}

func payloadToDocument(p map[string]*qdrant.Value) Document {
	d := Document{Metadata: map[string]any{}}
	for k, v := range p {
		switch k {
		case "content":
			d.Content = v.GetStringValue()
			continue
		case "start_index":
			d.StartIndex = int(v.GetIntegerValue())
			continue
		}
		if len(k) <= 3 || k[:3] != "md_" {
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			d.Metadata[k[3:]] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			d.Metadata[k[3:]] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			d.Metadata[k[3:]] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			d.Metadata[k[3:]] = kind.BoolValue
		}
	}
	return d
}
