// Package config provides configuration loading for the logtriage services.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LOGTRIAGE_STREAM_NAME, LOGTRIAGE_AGENT_MAX_ITERATIONS, ...)
//  2. YAML config file, when a path is given
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"time"

	"github.com/workflowai/logtriage/internal/logging"
)

// Config is the root configuration shared by all services. Each
// binary reads only the sections it needs.
type Config struct {
	Logging logging.Config `koanf:"logging"`

	Redis        RedisConfig     `koanf:"redis"`
	Stream       StreamConfig    `koanf:"stream"`
	Agent        AgentConfig     `koanf:"agent"`
	Search       SearchConfig    `koanf:"search"`
	Embeddings   EmbedConfig     `koanf:"embeddings"`
	Ingest       IngestConfig    `koanf:"ingest"`
	Orchestrator ServerConfig    `koanf:"orchestrator"`
	Indexer      ServerConfig    `koanf:"indexer"`
	ModelGateway ModelGWConfig   `koanf:"modelgw"`
	Knowledge    KnowledgeConfig `koanf:"knowledge"`
}

// RedisConfig holds the event stream backend connection.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// StreamConfig holds consumer-group settings for the log event stream.
type StreamConfig struct {
	Name     string `koanf:"name"`
	Group    string `koanf:"group"`
	Consumer string `koanf:"consumer"`

	// Block is the blocking-read timeout per XREADGROUP call.
	Block time.Duration `koanf:"block"`

	// Count caps the number of messages fetched per read cycle.
	Count int64 `koanf:"count"`

	// MaxLen bounds stream growth on publish (approximate trimming).
	MaxLen int64 `koanf:"max_len"`

	// DeadLetter names a secondary stream receiving events whose
	// analysis failed. Empty disables dead-lettering.
	DeadLetter string `koanf:"dead_letter"`
}

// AgentConfig bounds the reasoning loop and selects the completion backend.
type AgentConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	Timeout       time.Duration `koanf:"timeout"`

	// MaxLogChars caps log content fed into the prompt.
	MaxLogChars int `koanf:"max_log_chars"`

	// UseLocalModel selects the model gateway over a hosted backend.
	UseLocalModel   bool   `koanf:"use_local_model"`
	ModelServiceURL string `koanf:"model_service_url"`

	OpenAIBaseURL string `koanf:"openai_base_url"`
	OpenAIKey     string `koanf:"openai_key"`
	OpenAIModel   string `koanf:"openai_model"`

	ToolTimeout time.Duration `koanf:"tool_timeout"`
}

// SearchConfig holds knowledge base engine settings.
type SearchConfig struct {
	DefaultTopK     int     `koanf:"default_top_k"`
	MaxTopK         int     `koanf:"max_top_k"`
	SemanticWeight  float64 `koanf:"semantic_weight"`
	ContentMaxChars int     `koanf:"content_max_chars"`
}

// EmbedConfig holds embedding model settings.
type EmbedConfig struct {
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
}

// IngestConfig configures the ingestion service.
type IngestConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// WebhookSecret verifies GitHub delivery signatures. Empty disables
	// verification.
	WebhookSecret string `koanf:"webhook_secret"`

	// RateLimit is requests per second per client IP; RateBurst is the
	// allowed burst on top of it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// ServerConfig is a plain HTTP listener config.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// ModelGWConfig configures the model gateway and its upstream backend.
type ModelGWConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Upstream is an OpenAI-compatible completion endpoint the gateway
	// adapts into the pipeline's /generate contract.
	UpstreamBaseURL string `koanf:"upstream_base_url"`
	UpstreamKey     string `koanf:"upstream_key"`
	Model           string `koanf:"model"`

	DefaultMaxTokens   int     `koanf:"default_max_tokens"`
	DefaultTemperature float64 `koanf:"default_temperature"`
	DefaultTopP        float64 `koanf:"default_top_p"`
}

// KnowledgeConfig points the retrieval tool at the indexer service.
type KnowledgeConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addr returns the host:port listen address.
func (m ModelGWConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis: url is required")
	}
	if c.Stream.Name == "" || c.Stream.Group == "" {
		return fmt.Errorf("stream: name and group are required")
	}
	if c.Stream.Count <= 0 {
		return fmt.Errorf("stream: count must be positive")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent: max_iterations must be positive")
	}
	if !c.Agent.UseLocalModel && c.Agent.OpenAIBaseURL == "" {
		return fmt.Errorf("agent: openai_base_url is required when use_local_model is false")
	}
	if c.Ingest.RateLimit <= 0 || c.Ingest.RateBurst <= 0 {
		return fmt.Errorf("ingest: rate_limit and rate_burst must be positive")
	}
	if c.Search.MaxTopK <= 0 {
		return fmt.Errorf("search: max_top_k must be positive")
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search: semantic_weight must be in [0,1]")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}

	if cfg.Stream.Name == "" {
		cfg.Stream.Name = "logtriage:logs"
	}
	if cfg.Stream.Group == "" {
		cfg.Stream.Group = "orchestrator"
	}
	if cfg.Stream.Consumer == "" {
		cfg.Stream.Consumer = "orchestrator-1"
	}
	if cfg.Stream.Block == 0 {
		cfg.Stream.Block = 5 * time.Second
	}
	if cfg.Stream.Count == 0 {
		cfg.Stream.Count = 10
	}
	if cfg.Stream.MaxLen == 0 {
		cfg.Stream.MaxLen = 10000
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = 300 * time.Second
	}
	if cfg.Agent.MaxLogChars == 0 {
		cfg.Agent.MaxLogChars = 5000
	}
	if cfg.Agent.ModelServiceURL == "" {
		cfg.Agent.ModelServiceURL = "http://localhost:8004"
	}
	if cfg.Agent.OpenAIBaseURL == "" {
		cfg.Agent.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Agent.OpenAIModel == "" {
		cfg.Agent.OpenAIModel = "gpt-4-turbo-preview"
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.SemanticWeight == 0 {
		cfg.Search.SemanticWeight = 0.6
	}
	if cfg.Search.ContentMaxChars == 0 {
		cfg.Search.ContentMaxChars = 500
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.MaxLength == 0 {
		cfg.Embeddings.MaxLength = 512
	}

	if cfg.Ingest.Host == "" {
		cfg.Ingest.Host = "0.0.0.0"
	}
	if cfg.Ingest.Port == 0 {
		cfg.Ingest.Port = 8001
	}
	if cfg.Ingest.RateLimit == 0 {
		cfg.Ingest.RateLimit = 1
	}
	if cfg.Ingest.RateBurst == 0 {
		cfg.Ingest.RateBurst = 10
	}

	if cfg.Orchestrator.Host == "" {
		cfg.Orchestrator.Host = "0.0.0.0"
	}
	if cfg.Orchestrator.Port == 0 {
		cfg.Orchestrator.Port = 8002
	}
	if cfg.Indexer.Host == "" {
		cfg.Indexer.Host = "0.0.0.0"
	}
	if cfg.Indexer.Port == 0 {
		cfg.Indexer.Port = 8003
	}

	if cfg.ModelGateway.Host == "" {
		cfg.ModelGateway.Host = "0.0.0.0"
	}
	if cfg.ModelGateway.Port == 0 {
		cfg.ModelGateway.Port = 8004
	}
	if cfg.ModelGateway.DefaultMaxTokens == 0 {
		cfg.ModelGateway.DefaultMaxTokens = 512
	}
	if cfg.ModelGateway.DefaultTemperature == 0 {
		cfg.ModelGateway.DefaultTemperature = 0.7
	}
	if cfg.ModelGateway.DefaultTopP == 0 {
		cfg.ModelGateway.DefaultTopP = 0.9
	}

	if cfg.Knowledge.URL == "" {
		cfg.Knowledge.URL = "http://localhost:8003"
	}
	if cfg.Knowledge.Timeout == 0 {
		cfg.Knowledge.Timeout = 30 * time.Second
	}
}
