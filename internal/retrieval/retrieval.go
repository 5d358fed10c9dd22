// Package retrieval exposes the knowledge base to the reasoning loop as
// a tool. Lookup failures degrade to text observations so an unavailable
// knowledge service never fails an analysis.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ToolName is the exact name the reasoning loop dispatches on.
const ToolName = "knowledge_base_search"

const toolDescription = "Search the knowledge base for similar failures, known issues and fix " +
	"documentation. Input should be a search query describing the error or failure symptoms."

// unavailableObservation is the terminal fallback when every lookup path
// failed. Worded as guidance so the model keeps reasoning from the log.
const unavailableObservation = "Knowledge base currently unavailable. Please analyze based on log content alone."

// Config for the knowledge base tool.
type Config struct {
	// BaseURL of the knowledge service, e.g. http://localhost:8003.
	BaseURL string

	// Timeout per lookup request. Defaults to 30s.
	Timeout time.Duration

	// TopK results per lookup. Defaults to 5.
	TopK int
}

// Tool implements the agent tool interface over the knowledge service's
// search API.
type Tool struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewTool creates the knowledge base search tool.
func NewTool(cfg Config, logger *zap.Logger) *Tool {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	return &Tool{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name returns the registry name.
func (t *Tool) Name() string { return ToolName }

// Description returns the tool catalogue entry.
func (t *Tool) Description() string { return toolDescription }

type searchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	SearchType string `json:"search_type"`
}

type searchHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	URL     string  `json:"url"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// Execute runs a hybrid lookup, falling back to keyword-only when hybrid
// fails, then to a fixed unavailable observation. The returned error is
// always nil: retrieval trouble is an observation, not a failure.
func (t *Tool) Execute(ctx context.Context, query string) (string, error) {
	hits, err := t.search(ctx, query, "hybrid")
	if err != nil {
		t.logger.Warn("hybrid knowledge lookup failed, retrying keyword-only", zap.Error(err))
		hits, err = t.search(ctx, query, "keyword")
	}
	if err != nil {
		t.logger.Warn("knowledge base unavailable", zap.Error(err))
		return unavailableObservation, nil
	}
	if len(hits) == 0 {
		return "No relevant results found for: " + query, nil
	}
	return formatHits(hits), nil
}

func (t *Tool) search(ctx context.Context, query, searchType string) ([]searchHit, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: t.cfg.TopK, SearchType: searchType})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(t.cfg.BaseURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return decoded.Results, nil
}

// formatHits renders hits as a numbered observation block.
func formatHits(hits []searchHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d similar failure(s) in the knowledge base:\n", len(hits))
	for i, hit := range hits {
		fmt.Fprintf(&b, "\n%d. %s (relevance: %.2f)\n", i+1, hit.Title, hit.Score)
		if hit.Source != "" {
			fmt.Fprintf(&b, "   Source: %s\n", hit.Source)
		}
		if content := strings.TrimSpace(hit.Content); content != "" {
			fmt.Fprintf(&b, "   %s\n", content)
		}
		if hit.URL != "" {
			fmt.Fprintf(&b, "   Reference: %s\n", hit.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
