package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/search"
)

const stubDim = 8

// stubEmbedder produces deterministic vectors from text bytes so tests
// stay model-free.
type stubEmbedder struct{}

func (stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = stubVector(text)
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return stubVector(text), nil
}

func (stubEmbedder) Dimension() int { return stubDim }
func (stubEmbedder) Close() error   { return nil }

func stubVector(text string) []float32 {
	v := make([]float32, stubDim)
	for i, b := range []byte(text) {
		v[i%stubDim] += float32(b) / 255
	}
	return v
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	engine := search.NewEngine(stubDim)
	srv, err := NewServer(engine, stubEmbedder{}, cfg, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func indexDoc(t *testing.T, srv *Server, id, title, content string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/index", DocumentRequest{ID: id, Title: title, Content: content})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandleIndex(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := doJSON(t, srv, http.MethodPost, "/index", DocumentRequest{Title: "t", Content: "build timed out"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID, "missing id must be generated")
	assert.True(t, resp.Indexed)
	assert.Equal(t, stubDim, resp.EmbeddingDimension)
}

func TestHandleIndex_MissingContent(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodPost, "/index", DocumentRequest{Title: "no body"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndexBatch(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodPost, "/index/batch", BatchIndexRequest{Documents: []DocumentRequest{
		{ID: "a", Content: "first"},
		{ID: "b", Content: "second"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchIndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.IndexedCount)
	assert.Zero(t, resp.FailedCount)
	assert.Equal(t, []string{"a", "b"}, resp.DocumentIDs)
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodPost, "/search", SearchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_UnknownType(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodPost, "/search", SearchRequest{Query: "x", SearchType: "psychic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_KeywordMode(t *testing.T) {
	srv := newTestServer(t, Config{})
	indexDoc(t, srv, "a", "deploy timeout", "deployment exceeded the timeout")
	indexDoc(t, srv, "b", "oom", "container killed")

	rec := doJSON(t, srv, http.MethodPost, "/search", SearchRequest{Query: "timeout", SearchType: "keyword"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "keyword", resp.SearchType)
	assert.Equal(t, "timeout", resp.Query)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "a", resp.Results[0].ID)
}

func TestHandleSearch_TopKClamped(t *testing.T) {
	srv := newTestServer(t, Config{MaxTopK: 3})
	for i := 0; i < 10; i++ {
		indexDoc(t, srv, fmt.Sprintf("doc-%d", i), "timeout", "timeout everywhere")
	}

	rec := doJSON(t, srv, http.MethodPost, "/search", SearchRequest{
		Query:      "timeout",
		TopK:       1000,
		SearchType: "keyword",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.LessOrEqual(t, resp.Total, 3, "oversized top_k must be clamped, not rejected")
}

func TestHandleSearch_HybridDefaultAndTruncation(t *testing.T) {
	srv := newTestServer(t, Config{ContentMaxChars: 20})
	long := ""
	for i := 0; i < 10; i++ {
		long += "timeout everywhere "
	}
	indexDoc(t, srv, "a", "timeout", long)

	rec := doJSON(t, srv, http.MethodPost, "/search", SearchRequest{Query: "timeout"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hybrid", resp.SearchType, "search_type defaults to hybrid")
	require.Equal(t, 1, resp.Total)
	assert.Len(t, []rune(resp.Results[0].Content), 20, "content is truncated on the wire")
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t, Config{})
	indexDoc(t, srv, "a", "t", "c")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats search.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, stubDim, stats.Dimension)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	for _, path := range []string{"/health", "/ready", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
