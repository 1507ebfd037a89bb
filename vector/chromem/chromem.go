// Package chromem provides the chromem-go backed vector index.
// chromem-go is a pure Go, embedded vector database; each user gets their
// own collection for namespace isolation.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/loremind/loremind/core"
	"github.com/loremind/loremind/vector"
)

// Index wraps chromem-go behind the vector.Index contract.
type Index struct {
	db          *chromem.DB
	embedder    vector.Embedder
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an in-memory chromem index over the given embedder.
func New(embedder vector.Embedder) (*Index, error) {
	return &Index{
		db:          chromem.NewDB(),
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent creates a chromem index persisted under dir.
func NewPersistent(dir string, embedder vector.Embedder) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

// collection returns the user's collection, creating it on first use.
func (ix *Index) collection(userID string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[userID]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, ok := ix.collections[userID]; ok {
		return col, nil
	}

	col, err := ix.db.GetOrCreateCollection(
		collectionName(userID),
		nil, // no collection metadata
		nil, // embeddings are provided explicitly, never computed by chromem
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.collections[userID] = col
	return col, nil
}

// Upsert embeds text and stores it under the entity id. Embedding runs
// before any write, so a failed embedding leaves the index untouched.
func (ix *Index) Upsert(ctx context.Context, userID string, text string, id core.EntityID) error {
	embedding, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err)
	}

	col, err := ix.collection(userID)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        string(id),
		Content:   text,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	log.Printf("[VECTOR] Upserted entry %s for user %s", id, userID)
	return nil
}

// Query returns up to n entity ids nearest to text, best match first.
func (ix *Index) Query(ctx context.Context, userID string, text string, n int) ([]core.EntityID, error) {
	col, err := ix.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	if count := col.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	embedding, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		// Retrieval is best-effort: a failed query embedding means
		// "no relevant memory", not a hard error.
		log.Printf("[VECTOR] Query embedding failed for user %s: %v", userID, err)
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	ids := make([]core.EntityID, 0, len(results))
	for _, r := range results {
		ids = append(ids, core.EntityID(r.ID))
	}
	return ids, nil
}

// DeleteUserScope drops the user's collection entirely.
func (ix *Index) DeleteUserScope(ctx context.Context, userID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(ix.collections, userID)
	log.Printf("[VECTOR] Deleted vector scope for user %s", userID)
	return nil
}

// Close releases resources. chromem keeps everything in process memory (or
// already flushed to disk for persistent DBs), so there is nothing to do.
func (ix *Index) Close() error {
	return nil
}
