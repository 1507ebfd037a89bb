// Package mock provides a deterministic embedder for tests and offline
// development.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic embeddings from a text hash. Identical
// text always yields an identical vector, so exact-text round-trips rank
// first; there is no real semantic similarity.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with all-MiniLM-L6-v2's dimensionality.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed creates a deterministic embedding from the text's hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG seeded by the hash keeps the output stable per text.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
