// Command loremind runs the bounded-memory storytelling server: a WebSocket
// gateway in front of the transcript store, entity graph, vector index, and
// the model provider.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loremind/loremind/engine"
	"github.com/loremind/loremind/graph"
	graphsqlite "github.com/loremind/loremind/graph/sqlite"
	"github.com/loremind/loremind/llm/claude"
	"github.com/loremind/loremind/server"
	"github.com/loremind/loremind/transcript"
	transcriptsqlite "github.com/loremind/loremind/transcript/sqlite"
	"github.com/loremind/loremind/vector"
	vectorchromem "github.com/loremind/loremind/vector/chromem"
)

func main() {
	_ = godotenv.Load()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal("ANTHROPIC_API_KEY environment variable is required")
	}

	addr := envString("LISTEN_ADDR", ":8080")
	transcriptPath := envString("TRANSCRIPT_DB_PATH", "loremind-transcripts.db")
	graphPath := envString("GRAPH_DB_PATH", "loremind-graph.db")
	vectorDir := envString("VECTOR_DB_DIR", "loremind-vectors")
	persona := envString("PERSONA_PROMPT", defaultPersona)

	historyLimit := envInt("HISTORY_LIMIT", 100)
	turnsToKeep := envInt("TURNS_TO_KEEP", 6)
	retrievalResults := envInt("RETRIEVAL_RESULTS", 3)
	callTimeout := time.Duration(envInt("CALL_TIMEOUT_SECONDS", 30)) * time.Second

	// Transcript store.
	store, err := transcriptsqlite.New(transcriptPath, transcript.Seed(persona))
	if err != nil {
		log.Fatalf("Open transcript store: %v", err)
	}
	defer store.Close()
	log.Printf("[MAIN] Transcript store ready at %s", transcriptPath)

	// Entity graph.
	g, err := graphsqlite.New(graphPath, graph.Options{})
	if err != nil {
		log.Fatalf("Open entity graph: %v", err)
	}
	defer g.Close()
	log.Printf("[MAIN] Entity graph ready at %s", graphPath)

	// Embedder: the deterministic local embedder by default; builds tagged
	// with onnx can swap in the MiniLM model (see vector/embedder/onnx).
	embedder, err := vector.NewCachedEmbedder(newEmbedder(), 4096)
	if err != nil {
		log.Fatalf("Create embedder cache: %v", err)
	}
	defer embedder.Close()

	// Vector index.
	index, err := vectorchromem.NewPersistent(vectorDir, embedder)
	if err != nil {
		log.Fatalf("Open vector index: %v", err)
	}
	log.Printf("[MAIN] Vector index ready at %s", vectorDir)

	provider := claude.New(claude.Config{
		APIKey: apiKey,
		Model:  os.Getenv("ANTHROPIC_MODEL"),
	})

	eng := engine.New(store, g, index, provider, engine.Config{
		Persona:          persona,
		HistoryLimit:     historyLimit,
		TurnsToKeep:      turnsToKeep,
		RetrievalResults: retrievalResults,
	})

	gateway := server.New(eng, server.Config{
		CallTimeout: callTimeout,
	})

	httpServer := &http.Server{Addr: addr, Handler: gateway.Handler()}
	go func() {
		log.Printf("[MAIN] Listening on %s (ws://%s/ws)", addr, addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[MAIN] Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] Shutdown error: %v", err)
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s must be an integer, got %q", key, v)
	}
	return n
}
