package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStream(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func newTestConsumer(rdb redis.UniversalClient) *Consumer {
	return NewConsumer(rdb, ConsumerConfig{
		Stream:   "test:logs",
		Group:    "test-group",
		Consumer: "test-consumer",
		Block:    50 * time.Millisecond,
	}, zap.NewNop())
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	_, rdb := newTestStream(t)
	c := newTestConsumer(rdb)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx), "existing group must be treated as success")
}

func TestConsume_DeliversPublishedEvents(t *testing.T) {
	_, rdb := newTestStream(t)
	c := newTestConsumer(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.EnsureGroup(ctx))

	pub := NewPublisher(rdb, "test:logs", 1000, zap.NewNop())
	_, err := pub.Publish(ctx, &LogEvent{
		EventID:    "evt-1",
		Timestamp:  time.Now().UTC(),
		Source:     "github-actions",
		Repository: "acme/api",
		Branch:     "main",
		Commit:     "abc123",
		LogType:    "build",
		LogContent: "npm ERR! code E429",
	})
	require.NoError(t, err)

	events := c.Consume(ctx)
	select {
	case event := <-events:
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, "npm ERR! code E429", event.LogContent)
		assert.Equal(t, "build", event.LogType)
		assert.Equal(t, "acme/api", event.Repository)
		assert.Equal(t, "main", event.Branch)
		assert.Equal(t, "abc123", event.Commit)
		assert.Equal(t, "github-actions", event.Source)
		assert.Equal(t, "evt-1", event.Fields["event_id"])

		require.NoError(t, c.Ack(ctx, event.ID))
		pending, err := c.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConsume_MalformedPayloadAckedAndSkipped(t *testing.T) {
	_, rdb := newTestStream(t)
	c := newTestConsumer(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.EnsureGroup(ctx))

	// Malformed JSON in the data field, then a valid event.
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:logs",
		Values: map[string]interface{}{"data": "{not json"},
	}).Result()
	require.NoError(t, err)

	pub := NewPublisher(rdb, "test:logs", 1000, zap.NewNop())
	_, err = pub.Publish(ctx, &LogEvent{EventID: "evt-2", LogContent: "ok", LogType: "build"})
	require.NoError(t, err)

	events := c.Consume(ctx)
	select {
	case event := <-events:
		assert.Equal(t, "ok", event.LogContent, "malformed event must be skipped, not delivered")
		require.NoError(t, c.Ack(ctx, event.ID))

		// The malformed message was acked on skip, so nothing stays pending.
		pending, err := c.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConsume_ClosesOnCancel(t *testing.T) {
	_, rdb := newTestStream(t)
	c := newTestConsumer(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.EnsureGroup(ctx))

	events := c.Consume(ctx)
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel must close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestDecodeEvent_MergesDataPayload(t *testing.T) {
	event, err := decodeEvent("1-0", map[string]interface{}{
		"repository": "flat/repo",
		"data":       `{"log_content":"boom","log_type":"deploy","branch":"release"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "boom", event.LogContent)
	assert.Equal(t, "deploy", event.LogType)
	assert.Equal(t, "release", event.Branch)
	assert.Equal(t, "flat/repo", event.Repository)
}

func TestDecodeEvent_NestedValuesStayJSON(t *testing.T) {
	event, err := decodeEvent("1-0", map[string]interface{}{
		"data": `{"log_content":"boom","failure_signal":{"type":"build","keywords":["Timeout"]}}`,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"build","keywords":["Timeout"]}`, event.Fields["failure_signal"])
}

func TestDecodeEvent_MalformedData(t *testing.T) {
	_, err := decodeEvent("1-0", map[string]interface{}{"data": "{broken"})
	assert.Error(t, err)
}
