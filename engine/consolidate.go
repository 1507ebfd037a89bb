package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/loremind/loremind/core"
	"github.com/loremind/loremind/llm"
)

const (
	summaryPrefix = "Here is a summary of our story so far: "
	summaryAck    = "I remember. The adventure continues from there."
)

// consolidate compacts the transcript: the middle span is distilled into
// entities and a summary pair, the head (persona turn) and the last
// TurnsToKeep turns survive verbatim.
//
// Enrichment (extraction, upserts, summarization) is best effort; the
// rewrite is not. The transcript must shrink even when every enrichment step
// failed, or the size bound is lost.
func (e *Engine) consolidate(ctx context.Context, userID string, history []core.Turn) ([]core.Turn, error) {
	keep := e.cfg.TurnsToKeep
	if len(history) <= keep+1 {
		return history, nil
	}

	head := history[0]
	middle := history[1 : len(history)-keep]
	tail := history[len(history)-keep:]
	log.Printf("[CONSOLIDATE] User %s: compacting %d turns (keeping head + last %d)", userID, len(middle), keep)

	entities, err := e.provider.ExtractEntities(ctx, middle)
	if err != nil {
		log.Printf("[CONSOLIDATE] Extraction failed for user %s, proceeding without entities: %v", userID, err)
		entities = nil
	}
	for _, entity := range entities {
		e.rememberEntity(ctx, userID, entity)
	}

	summary, err := e.provider.Summarize(ctx, middle)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Printf("[CONSOLIDATE] Summarization failed for user %s: %v", userID, err)
		summary = llm.SummaryPlaceholder
	}

	rewritten := make([]core.Turn, 0, 3+len(tail))
	rewritten = append(rewritten,
		head,
		core.UserTurn(summaryPrefix+summary),
		core.ModelTurn(summaryAck),
	)
	rewritten = append(rewritten, tail...)

	if err := e.store.Rewrite(ctx, userID, rewritten); err != nil {
		return nil, fmt.Errorf("rewrite transcript: %w", err)
	}
	log.Printf("[CONSOLIDATE] User %s: transcript rewritten to %d turns, %d entities remembered", userID, len(rewritten), len(entities))
	return rewritten, nil
}

// describeEntity renders an entity as the sentence stored in the vector
// index. Keys are sorted so the same entity always yields the same text, and
// therefore the same embedding.
func describeEntity(entity core.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s.", entity.Name, entity.Type)

	keys := make([]string, 0, len(entity.Properties))
	for k := range entity.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s's %s is %s.", entity.Name, k, entity.Properties[k])
	}
	return b.String()
}
