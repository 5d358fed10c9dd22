// Package orchestrator exposes on-demand log analysis over HTTP,
// alongside the stream-driven workflow processor.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/agent"
)

// Analyzer runs one analysis. Satisfied by *agent.Loop.
type Analyzer interface {
	Execute(ctx context.Context, input agent.Input) (*agent.Result, error)
}

// Config holds orchestrator server configuration.
type Config struct {
	Host string
	Port int
}

// HealthCheck probes one dependency for the health endpoints.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the orchestrator HTTP server.
type Server struct {
	echo     *echo.Echo
	analyzer Analyzer
	checks   []HealthCheck
	logger   *zap.Logger
	cfg      Config
}

// NewServer creates the orchestrator server. checks are dependency
// probes evaluated by /health and /ready; /live stays unconditional.
func NewServer(analyzer Analyzer, cfg Config, logger *zap.Logger, checks ...HealthCheck) (*Server, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, analyzer: analyzer, checks: checks, logger: logger, cfg: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.POST("/workflows/analyze-log", s.handleAnalyzeLog)
	s.echo.GET("/workflows/types", s.handleWorkflowTypes)

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleHealth)
	s.echo.GET("/live", handleLive)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// AnalyzeLogRequest triggers one synchronous analysis.
type AnalyzeLogRequest struct {
	LogContent string            `json:"log_content"`
	LogType    string            `json:"log_type"`
	Context    map[string]string `json:"context"`
}

// AnalyzeLogResponse is the structured diagnosis.
type AnalyzeLogResponse struct {
	AnalysisID     string   `json:"analysis_id"`
	RootCause      string   `json:"root_cause"`
	Severity       string   `json:"severity"`
	SuggestedFixes []string `json:"suggested_fixes"`
	References     []string `json:"references"`
	Confidence     float64  `json:"confidence"`
}

// WorkflowTypesResponse lists the workflows this service runs.
type WorkflowTypesResponse struct {
	WorkflowTypes []string `json:"workflow_types"`
}

// HealthResponse is the probe response body. Checks maps dependency
// names to "ok" or the failure message.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleHealth runs the dependency probes. Any failure degrades the
// status to 503 with per-check detail.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	status := http.StatusOK
	for _, check := range s.checks {
		if err := check.Check(c.Request().Context()); err != nil {
			resp.Checks[check.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}
	return c.JSON(status, resp)
}

func (s *Server) handleAnalyzeLog(c echo.Context) error {
	var req AnalyzeLogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LogContent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "log_content field is required")
	}

	result, err := s.analyzer.Execute(c.Request().Context(), agent.Input{
		LogContent: req.LogContent,
		LogType:    req.LogType,
		Context:    req.Context,
	})
	if err != nil {
		s.logger.Error("analysis failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "analysis failed: model backend unavailable")
	}

	return c.JSON(http.StatusOK, AnalyzeLogResponse{
		AnalysisID:     result.AnalysisID,
		RootCause:      result.RootCause,
		Severity:       result.Severity,
		SuggestedFixes: result.SuggestedFixes,
		References:     result.References,
		Confidence:     result.Confidence,
	})
}

func (s *Server) handleWorkflowTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkflowTypesResponse{
		WorkflowTypes: []string{"log-analysis"},
	})
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
	s.logger.Info("starting orchestrator server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down orchestrator server")
	return s.echo.Shutdown(ctx)
}
