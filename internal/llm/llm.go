// Package llm defines the completion provider contract and its two
// implementations: the local model gateway and an OpenAI-compatible
// hosted backend. The rest of the system treats generation as a black
// box: prompt in, text out, with typed failures.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is a single text generation request.
type Request struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Result is a completed generation.
type Result struct {
	Text            string `json:"text"`
	TokensGenerated int    `json:"tokens_generated"`
	FinishReason    string `json:"finish_reason"`
}

// Chunk is one streaming event: token chunks carry incremental text,
// the terminal chunk carries Done or Err.
type Chunk struct {
	Token string
	Done  bool
	Err   error

	// FinishReason is set on the terminal chunk.
	FinishReason string
}

// Provider is a black-box completion backend.
type Provider interface {
	// Generate produces a full completion for the prompt.
	Generate(ctx context.Context, req Request) (*Result, error)

	// Stream produces the completion as a lazy chunk sequence terminated
	// by a Done (or Err) chunk. The channel is closed after the terminal
	// chunk.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// ErrUnreachable indicates the backend could not be reached at all.
// Distinguished from status errors so callers can decide retry vs abort.
var ErrUnreachable = errors.New("completion backend unreachable")

// StatusError indicates the backend answered with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion backend returned status %d: %s", e.StatusCode, e.Body)
}

// ErrUnexpected indicates a local failure (decoding, protocol) that is
// neither a connection nor a remote status problem.
var ErrUnexpected = errors.New("unexpected completion failure")
