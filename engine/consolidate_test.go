package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/loremind/loremind/core"
)

func TestDescribeEntity_Deterministic(t *testing.T) {
	entity := core.Entity{
		Name: "Grak",
		Type: core.EntityCharacter,
		Properties: map[string]string{
			"occupation": "merchant",
			"location":   "The Rusty Flagon",
			"attitude":   "wary",
		},
	}

	want := "Grak is a Character. Grak's attitude is wary. Grak's location is The Rusty Flagon. Grak's occupation is merchant."
	for i := 0; i < 20; i++ {
		if got := describeEntity(entity); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestDescribeEntity_NoProperties(t *testing.T) {
	got := describeEntity(core.Entity{Name: "Whisperwood", Type: core.EntityLocation})
	if got != "Whisperwood is a Location." {
		t.Fatalf("got %q", got)
	}
}

func TestConsolidate_RemembersEntities(t *testing.T) {
	provider := &fakeProvider{
		entities: []core.Entity{
			{Name: "Grak", Type: core.EntityCharacter, Properties: map[string]string{"occupation": "merchant"}},
			{Name: "Whisperwood", Type: core.EntityLocation, Properties: map[string]string{}},
		},
		summary: "Grak guided the party toward Whisperwood.",
	}
	eng, store, g, ix := newTestEngine(t, provider, Config{HistoryLimit: 10, TurnsToKeep: 4})
	ctx := context.Background()

	if _, err := store.Ensure(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if err := store.Append(ctx, "u1", core.UserTurn(fmt.Sprintf("filler %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	// One turn pushes past the threshold; extraction happens during
	// consolidation, not enrichment.
	provider.extractErr = nil
	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "Onward."); err != nil {
		t.Fatal(err)
	}

	ids, err := ix.Query(ctx, "u1", "Grak is a Character. Grak's occupation is merchant.", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("entity not indexed, got %v", ids)
	}
	rendered, err := g.Context(ctx, "u1", ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if rendered == "" {
		t.Fatal("graph context empty for consolidated entity")
	}
}

func TestConsolidate_ReplayIsIdempotent(t *testing.T) {
	provider := &fakeProvider{
		entities: []core.Entity{
			{Name: "Grak", Type: core.EntityCharacter, Properties: map[string]string{"occupation": "merchant"}},
		},
	}
	eng, _, _, ix := newTestEngine(t, provider, Config{HistoryLimit: 8, TurnsToKeep: 2})
	ctx := context.Background()

	// Several consolidations extract the same entity; the index must hold
	// exactly one entry for it.
	for i := 0; i < 12; i++ {
		if _, err := eng.HandleTurn(ctx, "u1", "Alice", fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := ix.Query(ctx, "u1", "Grak is a Character. Grak's occupation is merchant.", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d index entries for one entity, want 1", len(ids))
	}
}
