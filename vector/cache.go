package vector

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings in front of another Embedder.
// Consolidation re-describes entities whose text often has not changed, and
// retrieval re-embeds repeated queries; both hit the cache instead of the
// model.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with an LFU cache of roughly maxEntries
// embeddings.
func NewCachedEmbedder(inner Embedder, maxEntries int64) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or computes and caches it.
// Failures are never cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, embedding, 1)
	return embedding, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
