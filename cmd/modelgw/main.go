// Modelgw is the model gateway. It adapts an OpenAI-compatible inference
// backend (vLLM, llama.cpp server, hosted APIs) into the pipeline's
// generate and streaming contract.
//
// Usage:
//
//	modelgw -config config.yaml
//	LOGTRIAGE_MODELGW_UPSTREAM_BASE_URL=http://localhost:8000/v1 modelgw
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
	"github.com/workflowai/logtriage/internal/llm"
	"github.com/workflowai/logtriage/internal/logging"
	"github.com/workflowai/logtriage/internal/modelgw"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("modelgw error: %v", err)
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

	gw := cfg.ModelGateway
	if gw.UpstreamBaseURL == "" {
		return fmt.Errorf("modelgw: upstream_base_url is required")
	}

	logger.Info("starting model gateway",
		zap.String("model", gw.Model),
		zap.String("upstream", gw.UpstreamBaseURL),
		zap.Int("port", gw.Port))

	provider := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: gw.UpstreamBaseURL,
		APIKey:  gw.UpstreamKey,
		Model:   gw.Model,
	})

	srv, err := modelgw.NewServer(provider, modelgw.Config{
		Host:               gw.Host,
		Port:               gw.Port,
		Model:              gw.Model,
		UpstreamBaseURL:    gw.UpstreamBaseURL,
		DefaultMaxTokens:   gw.DefaultMaxTokens,
		DefaultTemperature: gw.DefaultTemperature,
		DefaultTopP:        gw.DefaultTopP,
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
