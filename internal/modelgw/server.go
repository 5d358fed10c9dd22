// Package modelgw is the model gateway: it fronts an OpenAI-compatible
// inference backend with the generate and streaming endpoints the rest
// of the pipeline speaks.
package modelgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/llm"
)

// Config holds model gateway configuration.
type Config struct {
	Host string
	Port int

	// Model is the model name reported by /model/info and used upstream.
	Model string

	// UpstreamBaseURL is the inference backend address.
	UpstreamBaseURL string

	// DefaultMaxTokens applies when a request omits max_tokens.
	DefaultMaxTokens int

	// DefaultTemperature applies when a request omits temperature.
	DefaultTemperature float64

	// DefaultTopP applies when a request omits top_p.
	DefaultTopP float64
}

func (c *Config) applyDefaults() {
	if c.DefaultMaxTokens == 0 {
		c.DefaultMaxTokens = 512
	}
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = 0.7
	}
	if c.DefaultTopP == 0 {
		c.DefaultTopP = 0.9
	}
}

// Server is the model gateway HTTP server.
type Server struct {
	echo     *echo.Echo
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewServer creates the gateway server over an upstream provider.
func NewServer(provider llm.Provider, cfg Config, logger *zap.Logger) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, provider: provider, cfg: cfg, logger: logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.POST("/generate", s.handleGenerate)
	s.echo.POST("/generate/stream", s.handleGenerateStream)
	s.echo.GET("/model/info", s.handleModelInfo)

	s.echo.GET("/health", handleHealth)
	s.echo.GET("/ready", handleHealth)
	s.echo.GET("/live", handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// GenerateRequest is a completion request.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
	Stop        []string `json:"stop"`
}

// GenerateResponse is a completed generation. The prompt is echoed back
// for request correlation.
type GenerateResponse struct {
	Text            string `json:"text"`
	Prompt          string `json:"prompt"`
	TokensGenerated int    `json:"tokens_generated"`
	FinishReason    string `json:"finish_reason"`
}

// ModelInfoResponse describes the upstream model.
type ModelInfoResponse struct {
	Model       string `json:"model"`
	UpstreamURL string `json:"upstream_url"`
}

// HealthResponse is the probe response body.
type HealthResponse struct {
	Status string `json:"status"`
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) toLLMRequest(req GenerateRequest) llm.Request {
	out := llm.Request{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: s.cfg.DefaultTemperature,
		TopP:        s.cfg.DefaultTopP,
		Stop:        req.Stop,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = s.cfg.DefaultMaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	return out
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	result, err := s.provider.Generate(c.Request().Context(), s.toLLMRequest(req))
	if err != nil {
		s.logger.Error("generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream generation failed")
	}

	return c.JSON(http.StatusOK, GenerateResponse{
		Text:            result.Text,
		Prompt:          req.Prompt,
		TokensGenerated: result.TokensGenerated,
		FinishReason:    result.FinishReason,
	})
}

// handleGenerateStream streams tokens as server-sent events: one "token"
// event per chunk, then a terminal "done" or "error" event.
func (s *Server) handleGenerateStream(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	chunks, err := s.provider.Stream(c.Request().Context(), s.toLLMRequest(req))
	if err != nil {
		s.logger.Error("stream start failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream generation failed")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	tokens := 0
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			s.logger.Error("stream failed mid-generation", zap.Error(chunk.Err))
			writeEvent(resp, "error", map[string]any{"error": chunk.Err.Error()})
			return nil
		case chunk.Done:
			writeEvent(resp, "done", map[string]any{
				"tokens_generated": tokens,
				"finish_reason":    chunk.FinishReason,
			})
			return nil
		default:
			tokens++
			writeEvent(resp, "token", map[string]any{"token": chunk.Token})
		}
	}

	// Channel closed without a done marker: client disconnect or upstream
	// cut the stream short.
	writeEvent(resp, "done", map[string]any{
		"tokens_generated": tokens,
		"finish_reason":    "interrupted",
	})
	return nil
}

func (s *Server) handleModelInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, ModelInfoResponse{
		Model:       s.cfg.Model,
		UpstreamURL: s.cfg.UpstreamBaseURL,
	})
}

func writeEvent(resp *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
	resp.Flush()
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting model gateway", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down model gateway")
	return s.echo.Shutdown(ctx)
}
