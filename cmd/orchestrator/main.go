// Orchestrator is the log triage workflow service. It consumes log
// failure events from the Redis stream, runs each through the reasoning
// loop, and exposes the same analysis on demand over HTTP.
//
// Usage:
//
//	# Start with defaults
//	orchestrator
//
//	# Configure via file and environment
//	orchestrator -config config.yaml
//	LOGTRIAGE_REDIS_URL=redis://redis:6379/0 LOGTRIAGE_AGENT_USE_LOCAL_MODEL=true orchestrator
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/workflowai/logtriage/internal/agent"
	"github.com/workflowai/logtriage/internal/config"
	"github.com/workflowai/logtriage/internal/llm"
	"github.com/workflowai/logtriage/internal/logging"
	"github.com/workflowai/logtriage/internal/orchestrator"
	"github.com/workflowai/logtriage/internal/retrieval"
	"github.com/workflowai/logtriage/internal/stream"
	"github.com/workflowai/logtriage/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("orchestrator error: %v", err)
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

	logger.Info("starting orchestrator",
		zap.String("stream", cfg.Stream.Name),
		zap.String("group", cfg.Stream.Group),
		zap.Int("port", cfg.Orchestrator.Port))

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

	provider := buildProvider(cfg.Agent)

	tools := agent.NewRegistry()
	tools.Register(retrieval.NewTool(retrieval.Config{
		BaseURL: cfg.Knowledge.URL,
		Timeout: cfg.Knowledge.Timeout,
	}, logger.Named("retrieval")))

	loop := agent.NewLoop(provider, tools, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		Timeout:       cfg.Agent.Timeout,
		MaxLogChars:   cfg.Agent.MaxLogChars,
		ToolTimeout:   cfg.Agent.ToolTimeout,
	}, logger.Named("agent"))

	consumer := stream.NewConsumer(rdb, stream.ConsumerConfig{
		Stream:   cfg.Stream.Name,
		Group:    cfg.Stream.Group,
		Consumer: cfg.Stream.Consumer,
		Block:    cfg.Stream.Block,
		Count:    cfg.Stream.Count,
	}, logger.Named("stream"))

	var deadLetter workflow.DeadLetterPublisher
	if cfg.Stream.DeadLetter != "" {
		deadLetter = stream.NewPublisher(rdb, cfg.Stream.DeadLetter, cfg.Stream.MaxLen, logger.Named("deadletter"))
		logger.Info("dead-letter stream enabled", zap.String("stream", cfg.Stream.DeadLetter))
	}

	processor := workflow.NewProcessor(consumer, loop, deadLetter, workflow.Config{}, logger.Named("workflow"))
	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("starting workflow processor: %w", err)
	}
	defer processor.Stop()

	srv, err := orchestrator.NewServer(loop, orchestrator.Config{
		Host: cfg.Orchestrator.Host,
		Port: cfg.Orchestrator.Port,
	}, logger.Named("http"),
		orchestrator.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		orchestrator.HealthCheck{Name: "knowledge", Check: knowledgeProbe(cfg.Knowledge.URL)},
	)
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

// knowledgeProbe checks the indexer's health endpoint.
func knowledgeProbe(baseURL string) func(ctx context.Context) error {
	client := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimRight(baseURL, "/") + "/health"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("knowledge service returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// buildProvider selects the completion backend: the local model gateway
// or a hosted OpenAI-compatible endpoint.
func buildProvider(cfg config.AgentConfig) llm.Provider {
	if cfg.UseLocalModel {
		return llm.NewModelServiceClient(cfg.ModelServiceURL, 0)
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
	})
}
