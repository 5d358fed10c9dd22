package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecute_FormatsHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "npm 429", req.Query)
		assert.Equal(t, "hybrid", req.SearchType)
		assert.Equal(t, 5, req.TopK)

		json.NewEncoder(w).Encode(searchResponse{Results: []searchHit{
			{ID: "1", Title: "npm rate limits", Content: "Registry returns 429 under load.", Score: 1.52, URL: "https://docs.npmjs.com/rate"},
			{ID: "2", Title: "Retry strategies", Content: "Use exponential backoff.", Score: 0.91},
		}})
	}))
	defer srv.Close()

	tool := NewTool(Config{BaseURL: srv.URL}, zap.NewNop())
	obs, err := tool.Execute(context.Background(), "npm 429")
	require.NoError(t, err)

	assert.Contains(t, obs, "Found 2 similar failure(s)")
	assert.Contains(t, obs, "1. npm rate limits (relevance: 1.52)")
	assert.Contains(t, obs, "Registry returns 429 under load.")
	assert.Contains(t, obs, "Reference: https://docs.npmjs.com/rate")
	assert.Contains(t, obs, "2. Retry strategies (relevance: 0.91)")
}

func TestExecute_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	tool := NewTool(Config{BaseURL: srv.URL}, zap.NewNop())
	obs, err := tool.Execute(context.Background(), "nothing matches")
	require.NoError(t, err)
	assert.Equal(t, "No relevant results found for: nothing matches", obs)
}

func TestExecute_FallsBackToKeyword(t *testing.T) {
	var mu sync.Mutex
	var searchTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		searchTypes = append(searchTypes, req.SearchType)
		mu.Unlock()

		if req.SearchType == "hybrid" {
			http.Error(w, "embedder not ready", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{Results: []searchHit{
			{ID: "1", Title: "keyword hit", Content: "found lexically", Score: 3.1},
		}})
	}))
	defer srv.Close()

	tool := NewTool(Config{BaseURL: srv.URL}, zap.NewNop())
	obs, err := tool.Execute(context.Background(), "deploy timeout")
	require.NoError(t, err)
	assert.Equal(t, []string{"hybrid", "keyword"}, searchTypes)
	assert.Contains(t, obs, "keyword hit")
}

func TestExecute_UnavailableNeverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tool := NewTool(Config{BaseURL: srv.URL}, zap.NewNop())
	obs, err := tool.Execute(context.Background(), "anything")
	require.NoError(t, err, "retrieval trouble must surface as an observation, never an error")
	assert.Equal(t, unavailableObservation, obs)
}

func TestExecute_AllStatusFailuresDegrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewTool(Config{BaseURL: srv.URL}, zap.NewNop())
	obs, err := tool.Execute(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, unavailableObservation, obs)
}
