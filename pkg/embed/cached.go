package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/cache"
)

// Cached wraps an Embedder with a vector cache. Cache failures are logged and
// treated as misses; only the inner embedder's errors are returned.
type Cached struct {
	inner  Embedder
	cache  cache.VectorCache
	logger *zap.Logger
}

// NewCached decorates inner with c
func NewCached(inner Embedder, c cache.VectorCache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{inner: inner, cache: c, logger: logger}
}

// Model returns the inner embedder's model
func (c *Cached) Model() string {
	return c.inner.Model()
}

// Embed serves hits from the cache and embeds all misses in one inner call
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missPos   []int
	)

	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, c.key(t))
		if err != nil {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		if ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missPos = append(missPos, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, pos := range missPos {
		out[pos] = vecs[j]
		if err := c.cache.Set(ctx, c.key(missTexts[j]), vecs[j]); err != nil {
			c.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.inner.Model() + ":" + hex.EncodeToString(sum[:])
}
