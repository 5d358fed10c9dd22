// Package workflow connects the event stream to the reasoning loop: it
// consumes log events, runs one analysis per event, and acknowledges
// every attempted event exactly once.
package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/agent"
	"github.com/workflowai/logtriage/internal/stream"
)

// Analyzer runs one analysis. Satisfied by *agent.Loop.
type Analyzer interface {
	Execute(ctx context.Context, input agent.Input) (*agent.Result, error)
}

// DeadLetterPublisher republishes failed events. Satisfied by
// *stream.Publisher.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, event *stream.LogEvent) (string, error)
}

// Config for the processor.
type Config struct {
	// StopTimeout bounds how long Stop waits for the in-flight event.
	// Defaults to 30s.
	StopTimeout time.Duration
}

// Processor drives the consume/analyze/ack cycle on a single background
// goroutine. Events are processed strictly in order; ordering within the
// consumer group is the stream's.
type Processor struct {
	consumer   *stream.Consumer
	analyzer   Analyzer
	deadLetter DeadLetterPublisher
	cfg        Config
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewProcessor creates a processor. deadLetter may be nil, in which case
// failed events are only logged.
func NewProcessor(consumer *stream.Consumer, analyzer Analyzer, deadLetter DeadLetterPublisher, cfg Config, logger *zap.Logger) *Processor {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &Processor{
		consumer:   consumer,
		analyzer:   analyzer,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the background consume loop. Calling Start twice is a
// logged no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.logger.Warn("processor already started, ignoring")
		return nil
	}

	if err := p.consumer.EnsureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	events := p.consumer.Consume(runCtx)
	go p.run(runCtx, events)

	p.logger.Info("workflow processor started")
	return nil
}

// Stop cancels the consume loop and waits up to StopTimeout for the
// in-flight event to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("processor stop timed out, abandoning in-flight event")
	}
	p.started = false
	p.logger.Info("workflow processor stopped")
}

func (p *Processor) run(ctx context.Context, events <-chan stream.Event) {
	defer close(p.done)
	for event := range events {
		p.handle(ctx, event)
	}
}

// handle analyzes one event. The event is acknowledged after the attempt
// regardless of outcome, so a poison event can never wedge the group.
func (p *Processor) handle(ctx context.Context, event stream.Event) {
	logger := p.logger.With(
		zap.String("event_id", event.ID),
		zap.String("repository", event.Repository),
		zap.String("log_type", event.LogType))

	if event.LogContent == "" {
		eventsSkipped.Inc()
		logger.Warn("event has no log content, skipping")
		if ackErr := p.consumer.Ack(ctx, event.ID); ackErr != nil {
			logger.Error("acknowledging empty event failed", zap.Error(ackErr))
		}
		return
	}

	start := time.Now()
	result, err := p.analyzer.Execute(ctx, agent.Input{
		LogContent: event.LogContent,
		LogType:    event.LogType,
		Context:    eventContext(event),
	})

	switch {
	case err != nil:
		eventsFailed.Inc()
		logger.Error("analysis failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		p.publishDeadLetter(ctx, event, err)
	default:
		eventsProcessed.Inc()
		processingSeconds.Observe(time.Since(start).Seconds())
		logger.Info("analysis complete",
			zap.String("analysis_id", result.AnalysisID),
			zap.String("severity", result.Severity),
			zap.Float64("confidence", result.Confidence),
			zap.String("root_cause", result.RootCause),
			zap.Duration("elapsed", time.Since(start)))
	}

	if ackErr := p.consumer.Ack(ctx, event.ID); ackErr != nil {
		logger.Error("acknowledging event failed", zap.Error(ackErr))
	}
}

func (p *Processor) publishDeadLetter(ctx context.Context, event stream.Event, cause error) {
	if p.deadLetter == nil {
		return
	}
	if _, err := p.deadLetter.Publish(ctx, &stream.LogEvent{
		EventID:    event.Fields["event_id"],
		Timestamp:  time.Now().UTC(),
		LogContent: event.LogContent,
		LogType:    event.LogType,
		Repository: event.Repository,
		Branch:     event.Branch,
		Commit:     event.Commit,
		Source:     event.Source,
		Error:      cause.Error(),
	}); err != nil {
		p.logger.Error("dead-letter publish failed",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	deadLettered.Inc()
}

// contextSkipFields are message fields that are not prompt context: the
// log body itself, the raw JSON payload, and stream bookkeeping.
var contextSkipFields = map[string]struct{}{
	"log_content": {},
	"data":        {},
	"event_id":    {},
	"timestamp":   {},
}

// eventContext flattens event metadata into the prompt context map,
// skipping empty values and non-context fields.
func eventContext(event stream.Event) map[string]string {
	ctx := make(map[string]string)
	for k, v := range event.Fields {
		if _, skip := contextSkipFields[k]; skip || v == "" {
			continue
		}
		ctx[k] = v
	}
	return ctx
}
