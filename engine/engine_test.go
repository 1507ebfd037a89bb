package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loremind/loremind/core"
	"github.com/loremind/loremind/graph"
	graphsqlite "github.com/loremind/loremind/graph/sqlite"
	"github.com/loremind/loremind/llm"
	"github.com/loremind/loremind/transcript"
	transcriptsqlite "github.com/loremind/loremind/transcript/sqlite"
	vectorchromem "github.com/loremind/loremind/vector/chromem"
	"github.com/loremind/loremind/vector/embedder/mock"
)

const testPersona = "You are the narrator of a fantasy world."

// fakeProvider scripts the three model operations.
type fakeProvider struct {
	mu sync.Mutex

	reply        string
	generateErr  error
	entities     []core.Entity
	extractErr   error
	summary      string
	summarizeErr error

	lastRetrieved string
	inflight      int32
	maxInflight   int32
}

func (f *fakeProvider) Generate(ctx context.Context, history []core.Turn, retrieved string) (string, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.lastRetrieved = retrieved
	f.mu.Unlock()

	if f.generateErr != nil {
		return "", f.generateErr
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "The story unfolds.", nil
}

func (f *fakeProvider) ExtractEntities(ctx context.Context, turns []core.Turn) ([]core.Entity, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.entities, nil
}

func (f *fakeProvider) Summarize(ctx context.Context, turns []core.Turn) (string, error) {
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	if f.summary != "" {
		return f.summary, nil
	}
	return "Much happened.", nil
}

func (f *fakeProvider) retrieved() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRetrieved
}

func newTestEngine(t *testing.T, provider llm.Provider, cfg Config) (*Engine, transcript.Store, graph.Graph, *vectorchromem.Index) {
	t.Helper()

	store, err := transcriptsqlite.New(":memory:", transcript.Seed(testPersona))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	g, err := graphsqlite.New(":memory:", graph.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })

	ix, err := vectorchromem.New(mock.New())
	if err != nil {
		t.Fatal(err)
	}

	return New(store, g, ix, provider, cfg), store, g, ix
}

func TestHandleTurn_AppendsExchange(t *testing.T) {
	provider := &fakeProvider{reply: "A goblin eyes you warily."}
	eng, store, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	reply, err := eng.HandleTurn(ctx, "u1", "Alice", "I enter the tavern.")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "A goblin eyes you warily." {
		t.Fatalf("got reply %q", reply)
	}

	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4 (seed pair + exchange)", len(turns))
	}
	if turns[2].Role != core.RoleUser || turns[2].Text != "Alice says: I enter the tavern." {
		t.Fatalf("got user turn %+v", turns[2])
	}
	if turns[3].Role != core.RoleModel || turns[3].Text != reply {
		t.Fatalf("got model turn %+v", turns[3])
	}
}

func TestHandleTurn_ConsolidatesAtThreshold(t *testing.T) {
	provider := &fakeProvider{summary: "The party met Grak and left for Whisperwood."}
	eng, store, _, _ := newTestEngine(t, provider, Config{HistoryLimit: 100, TurnsToKeep: 6})
	ctx := context.Background()

	// Grow the transcript to 99 turns: seed pair plus 97 appended.
	if _, err := store.Ensure(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 97; i++ {
		turn := core.UserTurn(fmt.Sprintf("filler %d", i))
		if i%2 == 1 {
			turn = core.ModelTurn(fmt.Sprintf("filler %d", i))
		}
		if err := store.Append(ctx, "u1", turn); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "What next?"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	// head + summary pair + 6 kept + the new exchange.
	if len(turns) != 11 {
		t.Fatalf("got %d turns, want 11", len(turns))
	}
	if turns[0].Text != testPersona {
		t.Fatalf("head turn lost: %+v", turns[0])
	}
	if turns[1].Role != core.RoleUser || !strings.Contains(turns[1].Text, "The party met Grak") {
		t.Fatalf("got summary turn %+v", turns[1])
	}
	if turns[2].Role != core.RoleModel {
		t.Fatalf("summary ack has role %q", turns[2].Role)
	}
	// The last pre-consolidation turn survives right before the exchange.
	if turns[8].Text != "filler 96" {
		t.Fatalf("tail not preserved: %+v", turns[8])
	}
}

func TestHandleTurn_BoundHoldsAcrossManyTurns(t *testing.T) {
	provider := &fakeProvider{}
	eng, store, _, _ := newTestEngine(t, provider, Config{HistoryLimit: 12, TurnsToKeep: 4})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := eng.HandleTurn(ctx, "u1", "Alice", fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatal(err)
		}
		turns, err := store.Snapshot(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) >= 12+2 {
			t.Fatalf("bound violated after turn %d: %d turns", i, len(turns))
		}
	}
}

func TestHandleTurn_TruncationSurvivesEnrichmentFailure(t *testing.T) {
	provider := &fakeProvider{
		extractErr:   errors.New("extraction exploded"),
		summarizeErr: errors.New("summarizer exploded"),
	}
	eng, store, _, _ := newTestEngine(t, provider, Config{HistoryLimit: 10, TurnsToKeep: 4})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := eng.HandleTurn(ctx, "u1", "Alice", fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) >= 12 {
		t.Fatalf("truncation blocked by enrichment failure: %d turns", len(turns))
	}
	var sawPlaceholder bool
	for _, turn := range turns {
		if strings.Contains(turn.Text, llm.SummaryPlaceholder) {
			sawPlaceholder = true
		}
	}
	if !sawPlaceholder {
		t.Fatal("summary placeholder missing from rewritten transcript")
	}
}

func TestHandleTurn_GenerationFailureFallsBack(t *testing.T) {
	provider := &fakeProvider{generateErr: fmt.Errorf("%w: model down", core.ErrGenerationFailed)}
	eng, store, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	reply, err := eng.HandleTurn(ctx, "u1", "Alice", "Hello?")
	if err != nil {
		t.Fatalf("generation failure must not escalate: %v", err)
	}
	if reply != llm.Fallback {
		t.Fatalf("got %q, want the fallback line", reply)
	}

	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	last := turns[len(turns)-1]
	if last.Role != core.RoleModel || last.Text != llm.Fallback {
		t.Fatalf("fallback not persisted: %+v", last)
	}
}

func TestHandleTurn_RetrievalFeedsGeneration(t *testing.T) {
	provider := &fakeProvider{
		entities: []core.Entity{{
			Name:       "Grak",
			Type:       core.EntityCharacter,
			Properties: map[string]string{"occupation": "merchant"},
		}},
	}
	eng, _, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	// First exchange plants Grak in the graph and index via enrichment.
	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "I talk to Grak."); err != nil {
		t.Fatal(err)
	}

	provider.entities = nil
	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "Who was that merchant again?"); err != nil {
		t.Fatal(err)
	}

	got := provider.retrieved()
	if !strings.Contains(got, "Grak") || !strings.Contains(got, "merchant") {
		t.Fatalf("generation did not receive Grak's context, got %q", got)
	}
}

func TestHandleTurn_SerializesPerUser(t *testing.T) {
	provider := &fakeProvider{}
	eng, store, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := eng.HandleTurn(ctx, "u1", "Alice", fmt.Sprintf("turn %d", i)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if max := atomic.LoadInt32(&provider.maxInflight); max > 1 {
		t.Fatalf("turns for one user overlapped: max inflight %d", max)
	}
	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 12 {
		t.Fatalf("got %d turns, want 12", len(turns))
	}
}

func TestResetUser_PurgesAllScopes(t *testing.T) {
	provider := &fakeProvider{
		entities: []core.Entity{{
			Name:       "Grak",
			Type:       core.EntityCharacter,
			Properties: map[string]string{"occupation": "merchant"},
		}},
	}
	eng, store, _, ix := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "I talk to Grak."); err != nil {
		t.Fatal(err)
	}

	if err := eng.ResetUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns after reset, want the seed pair", len(turns))
	}
	ids, err := ix.Query(ctx, "u1", "Grak", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("vector scope survived reset: %v", ids)
	}

	// Resetting again is a no-op, not an error.
	if err := eng.ResetUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestLastReply(t *testing.T) {
	provider := &fakeProvider{reply: "The gates creak open."}
	eng, _, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	if _, err := eng.LastReply(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound before any exchange", err)
	}

	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "I approach the gates."); err != nil {
		t.Fatal(err)
	}

	got, err := eng.LastReply(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The gates creak open." {
		t.Fatalf("got %q", got)
	}
}

func TestLastReply_SkipsSyntheticSummaryAck(t *testing.T) {
	provider := &fakeProvider{reply: "The gates creak open."}
	eng, store, _, _ := newTestEngine(t, provider, Config{})
	ctx := context.Background()

	// A consolidated transcript whose kept tail holds no model turn: the
	// only model turn is the spliced summary ack, which is not a reply.
	if _, err := store.Ensure(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Rewrite(ctx, "u1", []core.Turn{
		core.UserTurn(testPersona),
		core.UserTurn(summaryPrefix + "The party crossed the marsh."),
		core.ModelTurn(summaryAck),
		core.UserTurn("Alice says: hello?"),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.LastReply(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound when only the summary ack exists", err)
	}

	// A real exchange after consolidation is returned as usual.
	if _, err := eng.HandleTurn(ctx, "u1", "Alice", "I approach the gates."); err != nil {
		t.Fatal(err)
	}
	got, err := eng.LastReply(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The gates creak open." {
		t.Fatalf("got %q", got)
	}
}
