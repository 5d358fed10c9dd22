// Indexer is the knowledge service. It keeps the failure knowledge base
// in an in-process hybrid index and serves document ingestion and search
// over HTTP.
//
// Usage:
//
//	indexer -config config.yaml
//	LOGTRIAGE_EMBEDDINGS_MODEL=BAAI/bge-base-en-v1.5 indexer
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/workflowai/logtriage/internal/config"
	"github.com/workflowai/logtriage/internal/embed"
	"github.com/workflowai/logtriage/internal/indexer"
	"github.com/workflowai/logtriage/internal/logging"
	"github.com/workflowai/logtriage/internal/search"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("indexer error: %v", err)
	}
}

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

	logger.Info("starting indexer",
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("port", cfg.Indexer.Port))

	embedder, err := embed.NewFastEmbedProvider(embed.Config{
		Model:     cfg.Embeddings.Model,
		CacheDir:  cfg.Embeddings.CacheDir,
		MaxLength: cfg.Embeddings.MaxLength,
	})
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	defer embedder.Close()

	logger.Info("embedding model loaded", zap.Int("dimension", embedder.Dimension()))

	engine := search.NewEngine(embedder.Dimension())

	srv, err := indexer.NewServer(engine, embedder, indexer.Config{
		Host:            cfg.Indexer.Host,
		Port:            cfg.Indexer.Port,
		DefaultTopK:     cfg.Search.DefaultTopK,
		MaxTopK:         cfg.Search.MaxTopK,
		SemanticWeight:  cfg.Search.SemanticWeight,
		ContentMaxChars: cfg.Search.ContentMaxChars,
	}, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
