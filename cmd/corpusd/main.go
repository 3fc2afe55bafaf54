// Corpusd is a freshness-aware retrieval daemon.
//
// It periodically collects configured content sources, detects changes,
// embeds the changed portion, builds an immutable index snapshot, and
// promotes it behind a quality gate. Retrieval queries are served over HTTP
// from the live snapshot.
//
// Usage:
//
//	# Start with the default config (~/.config/corpusd/config.yaml)
//	corpusd
//
//	# Explicit config file
//	corpusd -config /etc/corpusd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/gate"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/server"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("corpusd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("corpusd: %v", err)
	}
	log.Println("Shutdown complete")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("sources", len(cfg.Sources)),
		zap.Duration("interval", cfg.Pipeline.Interval))

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	embedder, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	engine, err := retrieval.NewEngine(embedder, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval engine: %w", err)
	}

	// Cold start: reinstall the last promoted snapshot so queries are
	// served immediately, before the first pipeline run completes.
	switch snap, err := st.LoadCurrent(); {
	case err == nil:
		if snap.ModelVersion == embedder.ModelVersion() {
			engine.Promote(snap)
			logger.Info("restored live snapshot",
				zap.Uint64("generation", snap.Generation))
		} else {
			logger.Warn("persisted snapshot uses a different embedding model, awaiting rebuild",
				zap.String("persisted", snap.ModelVersion),
				zap.String("configured", embedder.ModelVersion()))
		}
	case errors.Is(err, store.ErrNotFound):
		logger.Info("no persisted snapshot, index empty until first run")
	default:
		return fmt.Errorf("restoring snapshot: %w", err)
	}

	qualityGate, err := gate.New(cfg.Gate, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating quality gate: %w", err)
	}
	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	metrics := server.NewMetrics()

	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:         st,
		Gate:          qualityGate,
		Engine:        engine,
		Embedder:      embedder,
		Chunker:       ch,
		Sources:       config.NewSourceReloader(configPath, cfg.Sources, logger),
		OnRunFinished: metrics.ObserveRun,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	srv, err := server.New(cfg.Server, engine, retrieval.NewExtractive(), p, metrics, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	go p.Start(ctx)
	if len(cfg.Sources) > 0 {
		p.Trigger()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
