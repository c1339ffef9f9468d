// Command cortexd runs the assistant's cognitive core as an interactive
// console session. Each line of input is one conversation turn; replies
// stream token by token unless -no-stream is set.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ceobrain/cortex/internal/config"
	"github.com/ceobrain/cortex/internal/engine"
	"github.com/ceobrain/cortex/internal/llm"
	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/internal/storage/postgres"
	"github.com/ceobrain/cortex/internal/storage/sqlite"
)

func main() {
	message := flag.String("message", "", "Run a single turn with this message and exit")
	noStream := flag.Bool("no-stream", false, "Print whole replies instead of streaming tokens")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, index, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	generator, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	streamer, err := llm.NewStreamGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize streaming LLM client: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A dead provider is worth knowing about before the first prompt, but
	// it may still come up later; keep going either way.
	if err := llm.HealthCheck(ctx, cfg.LLM); err != nil {
		log.Printf("Warning: LLM provider not responding: %v", err)
	}

	dispatcher := engine.NewDispatcher(ctx, cfg.Pipeline.DispatchWorkers)
	defer dispatcher.Close()

	memory := engine.NewMemory(store, index, embedder, generator)
	linker := engine.NewLinker(store, index, embedder, generator)
	router := engine.NewRouter(generator)
	pipeline := engine.NewPipeline(store, memory, linker, router, generator, streamer, dispatcher, engine.PipelineConfig{
		UserName:  cfg.User.Name,
		TopK:      cfg.Pipeline.RetrievalTopK,
		GraphHops: cfg.Pipeline.GraphHops,
	})

	budget := time.Duration(cfg.Pipeline.StreamBudgetSecs) * time.Second

	if *message != "" {
		runTurn(ctx, pipeline, *message, !*noStream, budget)
		return
	}

	// Interrupt ends the session cleanly so in-flight background jobs can
	// finish.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println()
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	log.Printf("cortexd ready (storage: %s, llm: %s)", cfg.Storage.Engine, cfg.LLM.Provider)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			runTurn(ctx, pipeline, line, !*noStream, budget)
		}
		fmt.Print("> ")
	}
}

func runTurn(ctx context.Context, pipeline *engine.Pipeline, message string, stream bool, budget time.Duration) {
	if !stream {
		fmt.Println(pipeline.Respond(ctx, message))
		return
	}
	for ev := range pipeline.Stream(ctx, message, budget) {
		switch ev.Kind {
		case engine.EventThinking:
			fmt.Printf("… %s\n", ev.Text)
		case engine.EventToken:
			fmt.Print(ev.Text)
		}
	}
	fmt.Println()
}

// openStorage builds the configured backend. Both return one Store plus a
// matching vector index.
func openStorage(cfg *config.Config) (storage.Store, storage.VectorIndex, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		index, err := postgres.NewVectorIndex(store.DB())
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, index, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err := sqlite.Open(filepath.Join(cfg.Storage.DataPath, "cortex.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, sqlite.NewVectorIndex(store.DB()), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}
