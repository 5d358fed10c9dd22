// Ingest is the log intake service. It receives GitHub Actions webhook
// deliveries and manual log submissions, extracts failure signals, and
// publishes log events onto the Redis stream the orchestrator consumes.
//
// Usage:
//
//	ingest -config config.yaml
//	LOGTRIAGE_INGEST_WEBHOOK_SECRET=xxx ingest
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/workflowai/logtriage/internal/config"
	"github.com/workflowai/logtriage/internal/ingest"
	"github.com/workflowai/logtriage/internal/logging"
	"github.com/workflowai/logtriage/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("ingest error: %v", err)
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

	logger.Info("starting ingest",
		zap.String("stream", cfg.Stream.Name),
		zap.Int("port", cfg.Ingest.Port))

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("connected to redis")

	publisher := stream.NewPublisher(rdb, cfg.Stream.Name, cfg.Stream.MaxLen, logger.Named("stream"))

	srv, err := ingest.NewServer(publisher, ingest.Config{
		Host:          cfg.Ingest.Host,
		Port:          cfg.Ingest.Port,
		WebhookSecret: cfg.Ingest.WebhookSecret,
		RateLimit:     cfg.Ingest.RateLimit,
		RateBurst:     cfg.Ingest.RateBurst,
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
