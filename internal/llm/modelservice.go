package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ModelServiceClient talks to the model gateway's /generate endpoints.
type ModelServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewModelServiceClient creates a client for the model gateway.
// The timeout bounds whole requests, including cold-start model loads.
func NewModelServiceClient(baseURL string, timeout time.Duration) *ModelServiceClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ModelServiceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate calls POST /generate and returns the completion.
func (c *ModelServiceClient) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrUnexpected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUnexpected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnexpected, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrUnexpected, err)
	}
	return &result, nil
}

// Stream calls POST /generate/stream and decodes the SSE token protocol:
// "token" events carry incremental text, a terminal "done" or "error"
// event ends the sequence.
func (c *ModelServiceClient) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrUnexpected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUnexpected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventName string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventName = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				chunk, terminal := decodeStreamEvent(eventName, data)
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if terminal {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- Chunk{Err: fmt.Errorf("%w: reading stream: %v", ErrUnexpected, err), Done: true}:
			case <-ctx.Done():
			}
			return
		}
		// Stream ended without a done event.
		select {
		case out <- Chunk{Done: true, FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func decodeStreamEvent(event, data string) (Chunk, bool) {
	switch event {
	case "token":
		var payload struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Chunk{Err: fmt.Errorf("%w: parsing token event: %v", ErrUnexpected, err), Done: true}, true
		}
		return Chunk{Token: payload.Token}, false
	case "done":
		var payload struct {
			TokensGenerated int    `json:"tokens_generated"`
			FinishReason    string `json:"finish_reason"`
		}
		_ = json.Unmarshal([]byte(data), &payload)
		return Chunk{Done: true, FinishReason: payload.FinishReason}, true
	case "error":
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal([]byte(data), &payload)
		return Chunk{Err: fmt.Errorf("%w: %s", ErrUnexpected, payload.Error), Done: true}, true
	default:
		return Chunk{Err: fmt.Errorf("%w: unknown stream event %q", ErrUnexpected, event), Done: true}, true
	}
}
