package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"
)

// JSONCache is the slice of a shared cache the embedder needs. A corrupt or
// missing value must be reported as a miss.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
}

// Cached memoizes query embeddings in a shared cache. Cache failures degrade
// to a direct call.
type Cached struct {
	inner  Embedder
	cache  JSONCache
	model  string
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewCached(inner Embedder, c JSONCache, model string, ttl time.Duration, logger logrus.FieldLogger) *Cached {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cached{inner: inner, cache: c, model: model, ttl: ttl, logger: logger}
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	var vec []float32
	hit, err := c.cache.GetJSON(ctx, key, &vec)
	if err != nil {
		c.logger.WithError(err).Warn("embedding cache read failed")
	}
	if hit && len(vec) > 0 {
		return vec, nil
	}

	vec, err = c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, vec, c.ttl); err != nil {
		c.logger.WithError(err).Warn("embedding cache write failed")
	}
	return vec, nil
}

// EmbedBatch is used at ingestion time and bypasses the cache.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}
