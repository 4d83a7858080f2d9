// Reflectd is the session and pattern orchestration daemon for the
// Innerverse reflection app.
//
// It runs the session lifecycle manager, the pattern analysis worker that
// fingerprints completed sessions, and the ephemeral artifact store for
// shareable insight previews.
//
// Configuration is loaded from ~/.config/reflectd/config.yaml and
// REFLECTD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	reflectd
//
//	# Configure via environment
//	REFLECTD_LOGGING_LEVEL=debug REFLECTD_EMBEDDINGS_BASE_URL=http://localhost:8080 reflectd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/innerverselabs/reflectd/internal/analysis"
	"github.com/innerverselabs/reflectd/internal/artifacts"
	"github.com/innerverselabs/reflectd/internal/config"
	"github.com/innerverselabs/reflectd/internal/embeddings"
	"github.com/innerverselabs/reflectd/internal/logging"
	"github.com/innerverselabs/reflectd/internal/recordstore"
	"github.com/innerverselabs/reflectd/internal/services"
	"github.com/innerverselabs/reflectd/internal/session"
	"github.com/innerverselabs/reflectd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/reflectd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  reflectd           Start the reflectd daemon\n")
			fmt.Fprintf(os.Stderr, "  reflectd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("reflectd error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("reflectd by Innerverse Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires all services together and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting reflectd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	embedder, err := embeddings.NewService(cfg.Embeddings, logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	vectors, err := vectorstore.NewChromemStore(cfg.VectorStore, logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer func() { _ = vectors.Close() }()

	records, err := newRecordStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing record store: %w", err)
	}
	defer func() { _ = records.Close() }()

	arts := artifacts.NewStore(&cfg.Artifacts, logger.Named("artifacts"))
	defer arts.Stop()

	manager := session.NewManager(&cfg.Session, records, logger.Named("session"))

	analyzer, err := analysis.NewService(&cfg.Analysis, embedder, vectors, arts, logger.Named("analysis"))
	if err != nil {
		return fmt.Errorf("initializing analysis: %w", err)
	}

	registry := services.NewRegistry(services.Options{
		Sessions:    manager,
		Analysis:    analyzer,
		Artifacts:   arts,
		Embedder:    embedder,
		VectorStore: vectors,
		RecordStore: records,
	})
	// The analysis worker drains completed sessions in the background.
	worker := analysis.NewWorker(registry.Analysis(), registry.Sessions().Completed(), logger.Named("worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(context.Background())
	}()

	logger.Info(ctx, "reflectd ready")
	<-ctx.Done()

	logger.Info(context.Background(), "shutting down")

	// Closing the manager closes the completed channel; the worker drains
	// what is buffered and exits. Bound the wait so a stuck dependency
	// cannot hang shutdown.
	if err := registry.Sessions().Close(); err != nil {
		logger.Warn(context.Background(), "closing session manager", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-time.After(cfg.Shutdown.Timeout):
		logger.Warn(context.Background(), "analysis worker did not drain in time",
			zap.Duration("timeout", cfg.Shutdown.Timeout),
		)
	}
	return nil
}

// newRecordStore builds the configured record store backend.
func newRecordStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (recordstore.Store, error) {
	switch cfg.RecordStore.Provider {
	case config.RecordStoreFirestore:
		return recordstore.NewFirestoreStore(ctx, &cfg.RecordStore.Firestore, logger.Named("recordstore"))
	case config.RecordStoreMemory:
		logger.Warn(ctx, "using in-memory record store, finalized sessions will not survive restarts")
		return recordstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown record store provider %q", cfg.RecordStore.Provider)
	}
}
