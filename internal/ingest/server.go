package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/workflowai/logtriage/internal/stream"
)

// Config holds ingestion server configuration.
type Config struct {
	Host string
	Port int

	// WebhookSecret verifies GitHub delivery signatures. Empty disables
	// verification, which is only acceptable in development.
	WebhookSecret string

	// RateLimit and RateBurst bound requests per client IP.
	RateLimit float64
	RateBurst int
}

func (c *Config) applyDefaults() {
	if c.RateLimit == 0 {
		c.RateLimit = 1
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
}

// Publisher appends one log event to the stream. Satisfied by
// *stream.Publisher.
type Publisher interface {
	Publish(ctx context.Context, event *stream.LogEvent) (string, error)
}

// Server is the ingestion HTTP server: GitHub webhook receipt and manual
// log submission.
type Server struct {
	echo      *echo.Echo
	publisher Publisher
	limiters  *rateLimiters
	cfg       Config
	logger    *zap.Logger
}

// NewServer creates the ingestion server.
func NewServer(publisher Publisher, cfg Config, logger *zap.Logger) (*Server, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
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
	e.Use(middleware.BodyLimit("1M"))
	e.Use(requestLogger(logger))

	s := &Server{
		echo:      e,
		publisher: publisher,
		limiters:  newRateLimiters(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:       cfg,
		logger:    logger,
	}
	s.registerRoutes()

	if cfg.WebhookSecret == "" {
		logger.Warn("webhook signature verification disabled, no secret configured")
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.POST("/webhook/github", s.handleGitHubWebhook, s.rateLimit)
	s.echo.POST("/logs", s.handleManualLog, s.rateLimit)

	s.echo.GET("/health", handleHealth)
	s.echo.GET("/ready", handleHealth)
	s.echo.GET("/live", handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiters.allow(c.RealIP()) {
			requestsThrottled.Inc()
			s.logger.Warn("rate limit exceeded", zap.String("ip", c.RealIP()))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Message    string `json:"message"`
	EventID    string `json:"event_id,omitempty"`
	Repository string `json:"repository,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
}

// handleGitHubWebhook receives GitHub Actions deliveries. Only completed
// workflow_run events with a non-success conclusion enter the stream;
// everything else is acknowledged and dropped.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	payload, err := github.ValidatePayload(c.Request(), []byte(s.cfg.WebhookSecret))
	if err != nil {
		webhooksRejected.Inc()
		s.logger.Warn("invalid webhook delivery", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(github.WebHookType(c.Request()), payload)
	if err != nil {
		webhooksRejected.Inc()
		s.logger.Warn("unparseable webhook payload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	run, ok := event.(*github.WorkflowRunEvent)
	if !ok {
		webhooksIgnored.Inc()
		return c.JSON(http.StatusOK, WebhookResponse{Message: "event ignored"})
	}
	if run.GetAction() != "completed" || run.GetWorkflowRun().GetConclusion() == "success" {
		webhooksIgnored.Inc()
		return c.JSON(http.StatusOK, WebhookResponse{Message: "workflow not failed, ignoring"})
	}

	logEvent := s.buildWorkflowRunEvent(run)
	if _, err := s.publisher.Publish(c.Request().Context(), logEvent); err != nil {
		s.logger.Error("failed to publish workflow failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to publish event")
	}
	eventsPublished.WithLabelValues("github").Inc()

	s.logger.Info("published workflow failure",
		zap.String("event_id", logEvent.EventID),
		zap.String("repository", logEvent.Repository),
		zap.String("workflow", run.GetWorkflowRun().GetName()))
	return c.JSON(http.StatusOK, WebhookResponse{
		Message:    "webhook processed",
		EventID:    logEvent.EventID,
		Repository: logEvent.Repository,
		Conclusion: run.GetWorkflowRun().GetConclusion(),
	})
}

// buildWorkflowRunEvent summarizes a failed workflow run as log content.
// Full run logs live behind an authenticated logs_url; the summary keeps
// the reference so the analysis can cite it.
func (s *Server) buildWorkflowRunEvent(event *github.WorkflowRunEvent) *stream.LogEvent {
	run := event.GetWorkflowRun()
	logContent := fmt.Sprintf(`Workflow failed: %s
Repository: %s
Branch: %s
Commit: %s
Conclusion: %s
Logs URL: %s

ERROR: Workflow execution failed
Exit code: 1`,
		run.GetName(),
		event.GetRepo().GetFullName(),
		run.GetHeadBranch(),
		run.GetHeadSHA(),
		run.GetConclusion(),
		run.GetLogsURL(),
	)

	return &stream.LogEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Source:        "github",
		Repository:    event.GetRepo().GetFullName(),
		Branch:        run.GetHeadBranch(),
		Commit:        run.GetHeadSHA(),
		LogType:       LogTypeBuild,
		LogContent:    logContent,
		FailureSignal: ParseLog(logContent, LogTypeBuild),
	}
}

// ManualLogRequest submits a log directly, bypassing webhooks.
type ManualLogRequest struct {
	LogContent string `json:"log_content"`
	LogType    string `json:"log_type"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
}

// ManualLogResponse reports the published event and its extracted signal.
type ManualLogResponse struct {
	Message       string                `json:"message"`
	EventID       string                `json:"event_id"`
	FailureSignal *stream.FailureSignal `json:"failure_signal"`
}

func (s *Server) handleManualLog(c echo.Context) error {
	var req ManualLogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LogContent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "log_content field is required")
	}
	logType, err := NormalizeLogType(req.LogType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	event := &stream.LogEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Source:        "manual",
		Repository:    req.Repository,
		Branch:        req.Branch,
		Commit:        req.Commit,
		LogType:       logType,
		LogContent:    req.LogContent,
		FailureSignal: ParseLog(req.LogContent, logType),
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if _, err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish manual log", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to publish event")
	}
	eventsPublished.WithLabelValues("manual").Inc()

	return c.JSON(http.StatusOK, ManualLogResponse{
		Message:       "log submitted",
		EventID:       event.EventID,
		FailureSignal: event.FailureSignal,
	})
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
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
	s.logger.Info("starting ingestion server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ingestion server")
	return s.echo.Shutdown(ctx)
}
