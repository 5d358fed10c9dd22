package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogEvent is the publish-side shape of a log failure event.
type LogEvent struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Repository string    `json:"repository"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"`
	LogType    string    `json:"log_type"`
	LogContent string    `json:"log_content"`

	// FailureSignal is the ingestion-time pre-parse of the log, when one
	// was extracted.
	FailureSignal *FailureSignal `json:"failure_signal,omitempty"`

	// Error carries the processing failure reason on dead-letter entries.
	Error string `json:"error,omitempty"`
}

// FailureSignal is failure information extracted from a log before it
// enters the stream.
type FailureSignal struct {
	Type         string   `json:"type"`
	ErrorMessage string   `json:"error_message,omitempty"`
	StackTrace   string   `json:"stack_trace,omitempty"`
	FailedStep   string   `json:"failed_step,omitempty"`
	ExitCode     int      `json:"exit_code,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	LineNumber   int      `json:"line_number,omitempty"`
}

// Publisher appends log events to a stream, trimming to a bounded length.
type Publisher struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewPublisher creates a publisher for the named stream.
func NewPublisher(rdb redis.UniversalClient, stream string, maxLen int64, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish appends one event. Flat fields carry routing context; the full
// event travels in the JSON data field, which consumers merge on decode.
func (p *Publisher) Publish(ctx context.Context, event *LogEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	values := map[string]interface{}{
		"event_id":   event.EventID,
		"timestamp":  event.Timestamp.Unix(),
		"source":     event.Source,
		"repository": event.Repository,
		"branch":     event.Branch,
		"commit":     event.Commit,
		"log_type":   event.LogType,
		"data":       string(payload),
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("event_id", event.EventID),
		zap.String("stream", p.stream),
		zap.String("message_id", id))
	return id, nil
}
