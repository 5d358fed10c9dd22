package modelgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/llm"
)

type fakeProvider struct {
	result   *llm.Result
	err      error
	requests []llm.Request
}

func (f *fakeProvider) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	result, err := f.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, 8)
	for _, word := range strings.Fields(result.Text) {
		ch <- llm.Chunk{Token: word}
	}
	ch <- llm.Chunk{Done: true, FinishReason: result.FinishReason}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	srv, err := NewServer(provider, Config{Model: "test-model", UpstreamBaseURL: "http://upstream"}, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleGenerate(t *testing.T) {
	provider := &fakeProvider{result: &llm.Result{Text: "completion", TokensGenerated: 3, FinishReason: "stop"}}
	srv := newTestServer(t, provider)

	rec := doJSON(t, srv, "/generate", GenerateRequest{Prompt: "analyze"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completion", resp.Text)
	assert.Equal(t, 3, resp.TokensGenerated)
	assert.Equal(t, "stop", resp.FinishReason)

	// Defaults are applied to omitted sampling fields.
	require.Len(t, provider.requests, 1)
	assert.Equal(t, 512, provider.requests[0].MaxTokens)
	assert.Equal(t, 0.7, provider.requests[0].Temperature)
	assert.Equal(t, 0.9, provider.requests[0].TopP)
}

func TestHandleGenerate_ExplicitSampling(t *testing.T) {
	provider := &fakeProvider{result: &llm.Result{Text: "x"}}
	srv := newTestServer(t, provider)

	temp, topP := 0.1, 0.5
	rec := doJSON(t, srv, "/generate", GenerateRequest{
		Prompt:      "analyze",
		MaxTokens:   64,
		Temperature: &temp,
		TopP:        &topP,
		Stop:        []string{"\nObservation:"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := provider.requests[0]
	assert.Equal(t, 64, req.MaxTokens)
	assert.Equal(t, 0.1, req.Temperature)
	assert.Equal(t, 0.5, req.TopP)
	assert.Equal(t, []string{"\nObservation:"}, req.Stop)
}

func TestHandleGenerate_MissingPrompt(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{result: &llm.Result{}})
	rec := doJSON(t, srv, "/generate", GenerateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerate_UpstreamFailure(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{err: errors.New("boom")})
	rec := doJSON(t, srv, "/generate", GenerateRequest{Prompt: "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleGenerateStream(t *testing.T) {
	provider := &fakeProvider{result: &llm.Result{Text: "alpha beta", FinishReason: "stop"}}
	srv := newTestServer(t, provider)

	rec := doJSON(t, srv, "/generate/stream", GenerateRequest{Prompt: "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	assert.Contains(t, body, "event: token\ndata: {\"token\":\"alpha\"}\n\n")
	assert.Contains(t, body, "event: token\ndata: {\"token\":\"beta\"}\n\n")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, "\"tokens_generated\":2")
	assert.Contains(t, body, "\"finish_reason\":\"stop\"")
}

func TestHandleGenerateStream_RoundTripsThroughClient(t *testing.T) {
	provider := &fakeProvider{result: &llm.Result{Text: "one two three", FinishReason: "stop"}}
	srv := newTestServer(t, provider)

	httpSrv := httptest.NewServer(srv.echo)
	defer httpSrv.Close()

	client := llm.NewModelServiceClient(httpSrv.URL, 0)
	chunks, err := client.Stream(context.Background(), llm.Request{Prompt: "x"})
	require.NoError(t, err)

	var tokens []string
	var last llm.Chunk
	for chunk := range chunks {
		if chunk.Done {
			last = chunk
			continue
		}
		tokens = append(tokens, chunk.Token)
	}
	assert.Equal(t, []string{"one", "two", "three"}, tokens)
	assert.Equal(t, "stop", last.FinishReason)
}

func TestHandleModelInfo(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{result: &llm.Result{}})
	req := httptest.NewRequest(http.MethodGet, "/model/info", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, "http://upstream", resp.UpstreamURL)
}
