// Package vector defines semantic retrieval over per-user entity
// descriptions: an embedding provider and a nearest-neighbor index whose
// entry ids are entity ids.
package vector

import (
	"context"

	"github.com/loremind/loremind/core"
)

// Embedder converts text to a fixed-length embedding vector.
// Implementations: mock (testing/offline), onnx (local all-MiniLM-L6-v2).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Index is the per-user vector store. Entry ids are entity ids: the index
// never invents its own id space.
type Index interface {
	// Upsert embeds text and stores it under id in the user's namespace.
	// On embedding failure it returns an error wrapping
	// core.ErrEmbeddingFailed and writes nothing.
	Upsert(ctx context.Context, userID string, text string, id core.EntityID) error

	// Query embeds text and returns up to n nearest entry ids, best match
	// first. An empty namespace or a failed embedding yields an empty
	// result, not an error: retrieval is an optimization.
	Query(ctx context.Context, userID string, text string, n int) ([]core.EntityID, error)

	// DeleteUserScope removes the user's entire namespace.
	DeleteUserScope(ctx context.Context, userID string) error

	// Close releases resources.
	Close() error
}
