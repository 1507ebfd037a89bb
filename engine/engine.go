// Package engine orchestrates the turn cycle: retrieve relevant memory,
// generate a reply against the bounded transcript, persist both turns, and
// enrich long-term memory from the exchange.
//
// All work for one user runs under that user's lock. Turns for different
// users proceed in parallel; turns for the same user are serialized because
// the consolidation threshold check is a read-modify-write over the
// transcript.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/loremind/loremind/core"
	"github.com/loremind/loremind/graph"
	"github.com/loremind/loremind/llm"
	"github.com/loremind/loremind/transcript"
	"github.com/loremind/loremind/vector"
)

// Config tunes the memory lifecycle.
type Config struct {
	// Persona seeds every fresh transcript as its first user turn.
	Persona string

	// HistoryLimit is the transcript length that triggers consolidation
	// (default 100).
	HistoryLimit int

	// TurnsToKeep is the number of recent turns consolidation leaves
	// verbatim (default 6).
	TurnsToKeep int

	// RetrievalResults is how many memories retrieval asks for per turn
	// (default 3).
	RetrievalResults int
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 100
	}
	if c.TurnsToKeep == 0 {
		c.TurnsToKeep = 6
	}
	if c.RetrievalResults == 0 {
		c.RetrievalResults = 3
	}
	return c
}

// Engine runs the retrieve, generate, persist, enrich cycle over the three
// memory stores.
type Engine struct {
	store    transcript.Store
	graph    graph.Graph
	index    vector.Index
	provider llm.Provider
	cfg      Config

	locks sync.Map // userID -> *sync.Mutex
}

// New wires an engine over the given stores and model provider.
func New(store transcript.Store, g graph.Graph, ix vector.Index, p llm.Provider, cfg Config) *Engine {
	return &Engine{
		store:    store,
		graph:    g,
		index:    ix,
		provider: p,
		cfg:      cfg.withDefaults(),
	}
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleTurn processes one inbound message and returns the reply text. The
// reply is always safe to show the user: a generation failure yields the
// fixed in-fiction fallback, already persisted to the transcript.
//
// Only transcript I/O failures escalate as errors; retrieval and enrichment
// degrade silently.
func (e *Engine) HandleTurn(ctx context.Context, userID, displayName, text string) (string, error) {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	retrieved := e.retrieve(ctx, userID, text)

	history, err := e.store.Ensure(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}

	// Consolidate before the append that would reach the limit, so the
	// bound is never exceeded by more than the single pending turn.
	if len(history)+1 >= e.cfg.HistoryLimit {
		history, err = e.consolidate(ctx, userID, history)
		if err != nil {
			return "", err
		}
	}

	userTurn := core.UserTurn(fmt.Sprintf("%s says: %s", displayName, text))
	if err := e.store.Append(ctx, userID, userTurn); err != nil {
		return "", fmt.Errorf("persist user turn: %w", err)
	}
	history = append(history, userTurn)

	reply, genErr := e.provider.Generate(ctx, history, retrieved)
	if genErr != nil {
		log.Printf("[ENGINE] Generation failed for user %s: %v", userID, genErr)
		reply = llm.Fallback
	}

	// The fallback is persisted like a real reply so the transcript stays
	// consistent with what the user saw.
	if err := e.store.Append(ctx, userID, core.ModelTurn(reply)); err != nil {
		return "", fmt.Errorf("persist model turn: %w", err)
	}

	if genErr == nil {
		e.enrich(ctx, userID, []core.Turn{userTurn, core.ModelTurn(reply)})
	}
	return reply, nil
}

// retrieve fetches graph context for the nearest indexed memories. Best
// effort: any failure here means answering without background, never failing
// the turn.
func (e *Engine) retrieve(ctx context.Context, userID, text string) string {
	ids, err := e.index.Query(ctx, userID, text, e.cfg.RetrievalResults)
	if err != nil {
		log.Printf("[ENGINE] Retrieval query failed for user %s: %v", userID, err)
		return ""
	}

	var contexts []string
	for _, id := range ids {
		cctx, err := e.graph.Context(ctx, userID, id)
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				log.Printf("[ENGINE] Graph context failed for user %s entity %s: %v", userID, id, err)
			}
			continue
		}
		if cctx != "" {
			contexts = append(contexts, cctx)
		}
	}
	if len(contexts) > 0 {
		log.Printf("[ENGINE] Retrieved %d memory contexts for user %s", len(contexts), userID)
	}
	return strings.Join(contexts, "\n\n")
}

// enrich extracts entities from the just-completed exchange and feeds them
// through the same upsert path consolidation uses, keeping memory fresh
// between consolidations. Best effort throughout.
func (e *Engine) enrich(ctx context.Context, userID string, exchange []core.Turn) {
	entities, err := e.provider.ExtractEntities(ctx, exchange)
	if err != nil {
		log.Printf("[ENGINE] Enrichment extraction failed for user %s: %v", userID, err)
		return
	}
	for _, entity := range entities {
		e.rememberEntity(ctx, userID, entity)
	}
}

// rememberEntity merges one entity into the graph and indexes its
// description. Failures are logged per entity; one bad entity never blocks
// the rest.
func (e *Engine) rememberEntity(ctx context.Context, userID string, entity core.Entity) {
	id, err := e.graph.Upsert(ctx, userID, entity)
	if err != nil {
		log.Printf("[ENGINE] Graph upsert failed for user %s entity %q: %v", userID, entity.Name, err)
		return
	}
	if err := e.index.Upsert(ctx, userID, describeEntity(entity), id); err != nil {
		log.Printf("[ENGINE] Vector upsert failed for user %s entity %q: %v", userID, entity.Name, err)
	}
}

// ResetUser seeds a fresh transcript and purges the user's graph and vector
// scopes. Idempotent.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.Reset(ctx, userID); err != nil {
		return fmt.Errorf("reset transcript: %w", err)
	}
	if err := e.graph.DeleteUserScope(ctx, userID); err != nil {
		return fmt.Errorf("reset graph: %w", err)
	}
	if err := e.index.DeleteUserScope(ctx, userID); err != nil {
		return fmt.Errorf("reset vector index: %w", err)
	}
	log.Printf("[ENGINE] Reset all memory for user %s", userID)
	return nil
}

// LastReply returns the most recent model turn, or ErrNotFound if the user
// has no history beyond the seed.
func (e *Engine) LastReply(ctx context.Context, userID string) (string, error) {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	turns, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return "", err
	}
	// Skip the seed acknowledgment and the synthetic summary ack spliced in
	// by consolidation; only real replies count.
	for i := len(turns) - 1; i >= 2; i-- {
		if turns[i].Role == core.RoleModel && turns[i].Text != summaryAck {
			return turns[i].Text, nil
		}
	}
	return "", fmt.Errorf("%w: no reply to repeat for user %s", core.ErrNotFound, userID)
}
