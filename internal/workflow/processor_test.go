package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workflowai/logtriage/internal/agent"
	"github.com/workflowai/logtriage/internal/llm"
	"github.com/workflowai/logtriage/internal/stream"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	inputs []agent.Input
	err    error
	done   chan struct{}
}

func newFakeAnalyzer(err error) *fakeAnalyzer {
	return &fakeAnalyzer{err: err, done: make(chan struct{}, 16)}
}

func (f *fakeAnalyzer) Execute(_ context.Context, input agent.Input) (*agent.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	f.done <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{
		AnalysisID: "test-analysis",
		RootCause:  "test cause",
		Severity:   agent.SeverityMedium,
		Confidence: 0.6,
	}, nil
}

func (f *fakeAnalyzer) inputCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type testRig struct {
	rdb      redis.UniversalClient
	consumer *stream.Consumer
	pub      *stream.Publisher
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	consumer := stream.NewConsumer(rdb, stream.ConsumerConfig{
		Stream:   "test:logs",
		Group:    "test-group",
		Consumer: "worker-1",
		Block:    50 * time.Millisecond,
	}, zap.NewNop())
	pub := stream.NewPublisher(rdb, "test:logs", 1000, zap.NewNop())
	return &testRig{rdb: rdb, consumer: consumer, pub: pub}
}

func waitForAnalysis(t *testing.T, analyzer *fakeAnalyzer) {
	t.Helper()
	select {
	case <-analyzer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analysis")
	}
}

func pendingCount(t *testing.T, rig *testRig) int64 {
	t.Helper()
	// The ack races the analyzer's done signal; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := rig.consumer.PendingCount(context.Background())
		require.NoError(t, err)
		if n == 0 || time.Now().After(deadline) {
			return n
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessor_AnalyzesAndAcks(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(nil)
	p := NewProcessor(rig.consumer, analyzer, nil, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{
		EventID:    "evt-1",
		LogContent: "npm ERR! 429",
		LogType:    "build",
		Repository: "acme/api",
		Branch:     "main",
	})
	require.NoError(t, err)

	waitForAnalysis(t, analyzer)
	assert.Zero(t, pendingCount(t, rig))

	require.Equal(t, 1, analyzer.inputCount())
	input := analyzer.inputs[0]
	assert.Equal(t, "npm ERR! 429", input.LogContent)
	assert.Equal(t, "build", input.LogType)
	assert.Equal(t, "acme/api", input.Context["repository"])
	assert.Equal(t, "main", input.Context["branch"])
	assert.NotContains(t, input.Context, "log_content")
	assert.NotContains(t, input.Context, "data")
}

func TestProcessor_AcksAfterFailedAnalysis(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(errors.New("model backend down"))
	p := NewProcessor(rig.consumer, analyzer, nil, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{EventID: "evt-1", LogContent: "x"})
	require.NoError(t, err)

	waitForAnalysis(t, analyzer)
	assert.Zero(t, pendingCount(t, rig), "failed events must still be acknowledged")
}

func TestProcessor_DeadLettersFailedEvents(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(errors.New("model backend down"))
	deadLetter := stream.NewPublisher(rig.rdb, "test:deadletter", 1000, zap.NewNop())
	p := NewProcessor(rig.consumer, analyzer, deadLetter, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{
		EventID:    "evt-1",
		LogContent: "boom",
		Repository: "acme/api",
	})
	require.NoError(t, err)

	waitForAnalysis(t, analyzer)
	assert.Zero(t, pendingCount(t, rig))

	// The failed event lands on the dead-letter stream with the cause.
	deadline := time.Now().Add(2 * time.Second)
	var messages []redis.XMessage
	for {
		messages, err = rig.rdb.XRange(context.Background(), "test:deadletter", "-", "+").Result()
		require.NoError(t, err)
		if len(messages) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Values["data"], "model backend down")
	assert.Equal(t, "acme/api", messages[0].Values["repository"])
}

func TestProcessor_SuccessDoesNotDeadLetter(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(nil)
	deadLetter := stream.NewPublisher(rig.rdb, "test:deadletter", 1000, zap.NewNop())
	p := NewProcessor(rig.consumer, analyzer, deadLetter, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{EventID: "evt-1", LogContent: "fine"})
	require.NoError(t, err)

	waitForAnalysis(t, analyzer)
	assert.Zero(t, pendingCount(t, rig))

	messages, err := rig.rdb.XRange(context.Background(), "test:deadletter", "-", "+").Result()
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestProcessor_SkipsEventsWithoutLogContent(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(nil)
	p := NewProcessor(rig.consumer, analyzer, nil, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{EventID: "empty"})
	require.NoError(t, err)
	_, err = rig.pub.Publish(context.Background(), &stream.LogEvent{EventID: "real", LogContent: "boom"})
	require.NoError(t, err)

	waitForAnalysis(t, analyzer)
	assert.Zero(t, pendingCount(t, rig), "empty events are acked, not redelivered")

	require.Equal(t, 1, analyzer.inputCount())
	assert.Equal(t, "boom", analyzer.inputs[0].LogContent)
}

// plainProvider stands in for a model that answers without any of the
// structured sections the parser looks for.
type plainProvider struct{}

func (plainProvider) Generate(context.Context, llm.Request) (*llm.Result, error) {
	return &llm.Result{Text: "Final Answer: The database connection was refused.", FinishReason: "stop"}, nil
}

func (plainProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Done: true, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type recordingAnalyzer struct {
	inner   Analyzer
	mu      sync.Mutex
	results []*agent.Result
	done    chan struct{}
}

func (r *recordingAnalyzer) Execute(ctx context.Context, input agent.Input) (*agent.Result, error) {
	result, err := r.inner.Execute(ctx, input)
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	r.done <- struct{}{}
	return result, err
}

func TestProcessor_EndToEndDefaultsFromUnstructuredModel(t *testing.T) {
	rig := newTestRig(t)
	loop := agent.NewLoop(plainProvider{}, agent.NewRegistry(), agent.Config{}, zap.NewNop())
	analyzer := &recordingAnalyzer{inner: loop, done: make(chan struct{}, 1)}
	p := NewProcessor(rig.consumer, analyzer, nil, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := rig.pub.Publish(context.Background(), &stream.LogEvent{
		EventID:    "evt-1",
		LogContent: "Error: ECONNREFUSED at db-connect.js:42",
		LogType:    "runtime",
	})
	require.NoError(t, err)

	select {
	case <-analyzer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analysis")
	}
	assert.Zero(t, pendingCount(t, rig))

	require.Len(t, analyzer.results, 1)
	result := analyzer.results[0]
	assert.NotEmpty(t, result.RootCause)
	assert.Equal(t, agent.SeverityMedium, result.Severity)
	assert.Contains(t, result.SuggestedFixes, "Review logs and check recent changes")
}

func TestProcessor_DoubleStartIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	analyzer := newFakeAnalyzer(nil)
	p := NewProcessor(rig.consumer, analyzer, nil, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()), "second start must be a logged no-op")
	p.Stop()
}

func TestProcessor_StopTwiceIsSafe(t *testing.T) {
	rig := newTestRig(t)
	p := NewProcessor(rig.consumer, newFakeAnalyzer(nil), nil, Config{}, zap.NewNop())
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()
}
