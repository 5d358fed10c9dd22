// Package indexer exposes the knowledge base engine over HTTP: document
// ingestion, search and index stats.
package indexer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/embed"
	"github.com/workflowai/logtriage/internal/search"
)

// Config holds indexer server configuration.
type Config struct {
	Host string
	Port int

	// DefaultTopK applies when a search request omits top_k.
	DefaultTopK int

	// MaxTopK caps top_k; larger requests are clamped, not rejected.
	MaxTopK int

	// SemanticWeight is the hybrid fusion weight for the semantic side.
	SemanticWeight float64

	// ContentMaxChars truncates result content on the wire. Display-only;
	// the index keeps full content.
	ContentMaxChars int
}

func (c *Config) applyDefaults() {
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 10
	}
	if c.MaxTopK == 0 {
		c.MaxTopK = 100
	}
	if c.SemanticWeight == 0 {
		c.SemanticWeight = 0.6
	}
	if c.ContentMaxChars == 0 {
		c.ContentMaxChars = 500
	}
}

// Server is the knowledge service HTTP server.
type Server struct {
	echo     *echo.Echo
	engine   *search.Engine
	embedder embed.Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewServer creates the indexer server.
func NewServer(engine *search.Engine, embedder embed.Embedder, cfg Config, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
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

	s := &Server{
		echo:     e,
		engine:   engine,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.POST("/index", s.handleIndex)
	s.echo.POST("/index/batch", s.handleIndexBatch)
	s.echo.POST("/search", s.handleSearch)
	s.echo.GET("/stats", s.handleStats)

	s.echo.GET("/health", handleHealth)
	s.echo.GET("/ready", handleHealth)
	s.echo.GET("/live", handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// DocumentRequest is one document to index.
type DocumentRequest struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// IndexResponse reports one indexed document.
type IndexResponse struct {
	ID                 string `json:"id"`
	Indexed            bool   `json:"indexed"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// BatchIndexRequest carries documents to index independently.
type BatchIndexRequest struct {
	Documents []DocumentRequest `json:"documents"`
}

// BatchIndexResponse reports per-batch outcomes. Errors are keyed by
// document id, or by position for documents without one.
type BatchIndexResponse struct {
	IndexedCount int               `json:"indexed_count"`
	FailedCount  int               `json:"failed_count"`
	DocumentIDs  []string          `json:"document_ids"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// SearchRequest is a knowledge base query.
type SearchRequest struct {
	Query      string         `json:"query"`
	TopK       int            `json:"top_k"`
	SearchType string         `json:"search_type"`
	Filters    map[string]any `json:"filters"`
}

// SearchHit is one result on the wire.
type SearchHit struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Source   string         `json:"source,omitempty"`
	URL      string         `json:"url,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResponse is the query result set.
type SearchResponse struct {
	Query      string      `json:"query"`
	Results    []SearchHit `json:"results"`
	Total      int         `json:"total"`
	SearchType string      `json:"search_type"`
}

// HealthResponse is the probe response body.
type HealthResponse struct {
	Status string `json:"status"`
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIndex(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	doc, err := s.buildDocument(c.Request().Context(), req)
	if err != nil {
		s.logger.Error("embedding document failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "embedding generation failed")
	}

	if err := s.engine.Upsert(doc); err != nil {
		s.logger.Warn("indexing rejected", zap.String("id", doc.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, IndexResponse{
		ID:                 doc.ID,
		Indexed:            true,
		EmbeddingDimension: s.engine.Dimension(),
	})
}

func (s *Server) handleIndexBatch(c echo.Context) error {
	var req BatchIndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}

	texts := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		texts[i] = embeddingText(d)
	}
	embeddings, err := s.embedder.EmbedDocuments(c.Request().Context(), texts)
	if err != nil {
		s.logger.Error("embedding batch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "embedding generation failed")
	}
	if len(embeddings) != len(req.Documents) {
		return echo.NewHTTPError(http.StatusInternalServerError, "embedding count mismatch")
	}

	docs := make([]search.Document, len(req.Documents))
	for i, d := range req.Documents {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		docs[i] = search.Document{
			ID:        d.ID,
			Title:     d.Title,
			Content:   d.Content,
			Embedding: embeddings[i],
			Metadata:  d.Metadata,
		}
	}

	indexed, failures := s.engine.UpsertBatch(docs)
	resp := BatchIndexResponse{
		IndexedCount: indexed,
		FailedCount:  len(failures),
		DocumentIDs:  make([]string, 0, indexed),
	}
	for _, doc := range docs {
		if _, failed := failures[doc.ID]; !failed {
			resp.DocumentIDs = append(resp.DocumentIDs, doc.ID)
		}
	}
	if len(failures) > 0 {
		resp.Errors = make(map[string]string, len(failures))
		for id, ferr := range failures {
			resp.Errors[id] = ferr.Error()
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	searchType := req.SearchType
	if searchType == "" {
		searchType = "hybrid"
	}

	var (
		results []search.Result
		err     error
	)
	switch searchType {
	case "keyword":
		results = s.engine.KeywordSearch(req.Query, topK, req.Filters)
	case "semantic":
		var embedding []float32
		embedding, err = s.embedder.EmbedQuery(c.Request().Context(), req.Query)
		if err == nil {
			results, err = s.engine.SemanticSearch(embedding, topK, req.Filters)
		}
	case "hybrid":
		var embedding []float32
		embedding, err = s.embedder.EmbedQuery(c.Request().Context(), req.Query)
		if err == nil {
			results, err = s.engine.HybridSearch(req.Query, embedding, topK, req.Filters, s.cfg.SemanticWeight)
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown search_type %q (want semantic, keyword or hybrid)", searchType))
	}
	if err != nil {
		s.logger.Error("search failed", zap.String("search_type", searchType), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			ID:       r.ID,
			Title:    r.Title,
			Content:  truncate(r.Content, s.cfg.ContentMaxChars),
			Score:    r.Score,
			Source:   r.Source,
			URL:      r.URL,
			Metadata: r.Metadata,
		}
	}
	return c.JSON(http.StatusOK, SearchResponse{
		Query:      req.Query,
		Results:    hits,
		Total:      len(hits),
		SearchType: searchType,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

// buildDocument embeds and assembles one document, generating an id when
// the request carries none.
func (s *Server) buildDocument(ctx context.Context, req DocumentRequest) (search.Document, error) {
	embeddings, err := s.embedder.EmbedDocuments(ctx, []string{embeddingText(req)})
	if err != nil {
		return search.Document{}, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return search.Document{
		ID:        id,
		Title:     req.Title,
		Content:   req.Content,
		Embedding: embeddings[0],
		Metadata:  req.Metadata,
	}, nil
}

// embeddingText joins title and content so titles influence the vector.
func embeddingText(req DocumentRequest) string {
	if req.Title == "" {
		return req.Content
	}
	return req.Title + "\n\n" + req.Content
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// requestLogger logs each request with its id, status and latency.
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
	s.logger.Info("starting indexer server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down indexer server")
	return s.echo.Shutdown(ctx)
}
