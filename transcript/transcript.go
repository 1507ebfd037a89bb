// Package transcript defines the append-only per-user turn log that forms
// the model's working context.
//
// A transcript is owned exclusively by one user. It is created lazily on
// first access, seeded with the fixed system-framing pair (persona prompt +
// model acknowledgment), grows by append, and shrinks only through
// consolidation's Rewrite. The seed pair at the head is never evicted; it is
// only ever replaced as a unit when consolidation splices in a summary pair.
package transcript

import (
	"context"

	"github.com/loremind/loremind/core"
)

// SeedAck is the fixed model acknowledgment that completes the seed pair.
const SeedAck = "Understood. The world is ready. I will await the adventurers."

// Seed returns the two-turn system-framing pair for a fresh transcript.
func Seed(persona string) []core.Turn {
	return []core.Turn{core.UserTurn(persona), core.ModelTurn(SeedAck)}
}

// Store is the durable transcript backend.
//
// Consolidation threshold enforcement lives in the engine, which serializes
// all access per user; the store's contract is purely mechanical. Backend
// failures are reported wrapping core.ErrStoreUnavailable — callers must not
// drop a turn on the floor when they see it.
type Store interface {
	// Ensure returns the user's transcript, creating the seeded one if none
	// exists. Creation is a single atomic check-and-create: two concurrent
	// first messages must not produce divergent seeds.
	Ensure(ctx context.Context, userID string) ([]core.Turn, error)

	// Append adds one turn at the end of the user's transcript, seeding it
	// first if needed.
	Append(ctx context.Context, userID string, turn core.Turn) error

	// Rewrite replaces the user's transcript wholesale. Consolidation is the
	// only caller that ever shrinks a transcript through this.
	Rewrite(ctx context.Context, userID string, turns []core.Turn) error

	// Snapshot returns a read-only copy of the user's transcript.
	Snapshot(ctx context.Context, userID string) ([]core.Turn, error)

	// Reset replaces the user's transcript with a fresh seeded one.
	Reset(ctx context.Context, userID string) error

	// Close releases resources.
	Close() error
}
