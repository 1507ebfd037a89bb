// Package llm defines the language-model operations the engine depends on:
// narrative generation, entity extraction, and summarization.
package llm

import (
	"context"

	"github.com/loremind/loremind/core"
)

// Fallback is the in-fiction reply used when generation fails. It is
// appended to the transcript like any other model turn so the conversation
// stays well-formed.
const Fallback = "The world seems to shimmer and fade for a moment. I... I lost my train of thought. Can you repeat that?"

// SummaryPlaceholder stands in for a summary when summarization fails during
// consolidation. Truncation proceeds regardless.
const SummaryPlaceholder = "[Summary could not be generated due to an error.]"

// Provider is a language model capable of the three operations the engine
// needs. Implementations: claude (production), plus test fakes.
type Provider interface {
	// Generate produces the next model turn for the conversation. retrieved
	// is background context recalled from long-term memory; empty means no
	// relevant memory was found. Errors wrap core.ErrGenerationFailed.
	Generate(ctx context.Context, history []core.Turn, retrieved string) (string, error)

	// ExtractEntities pulls structured entities out of recent turns.
	// An unparseable model response wraps core.ErrMalformedExtraction.
	ExtractEntities(ctx context.Context, turns []core.Turn) ([]core.Entity, error)

	// Summarize condenses the given turns into a short narrative recap.
	Summarize(ctx context.Context, turns []core.Turn) (string, error)
}
