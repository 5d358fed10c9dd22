package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConsumerConfig holds consumer-group read settings.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Block is the blocking timeout per read call.
	Block time.Duration

	// Count caps messages fetched per read cycle.
	Count int64
}

// Consumer reads log events from a stream through a consumer group.
// Cursor and pending state live in Redis; the consumer holds no local copy.
type Consumer struct {
	rdb    redis.UniversalClient
	cfg    ConsumerConfig
	logger *zap.Logger
}

// NewConsumer creates a consumer. Defaults: 5s block, 10 message batches.
func NewConsumer(rdb redis.UniversalClient, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	return &Consumer{rdb: rdb, cfg: cfg, logger: logger}
}

// EnsureGroup idempotently creates the consumer group at the stream's
// earliest offset. An already-existing group is success.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		c.logger.Info("consumer group already exists",
			zap.String("stream", c.cfg.Stream),
			zap.String("group", c.cfg.Group))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("created consumer group",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.Group))
	return nil
}

// Consume returns an unbounded channel of events. The channel is closed
// when ctx is cancelled; cancellation is observed at least once per read
// cycle, so termination is bounded by one block window.
//
// Malformed messages are acknowledged and skipped so they cannot poison
// the stream. Transient read errors are logged and retried after a short
// backoff; they never terminate the loop.
func (c *Consumer) Consume(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		c.logger.Info("starting consumer",
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.Group))

		for {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return
			}

			streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				Streams:  []string{c.cfg.Stream, ">"},
				Count:    c.cfg.Count,
				Block:    c.cfg.Block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					// No new messages within the block window.
					continue
				}
				if ctx.Err() != nil {
					c.logger.Info("consumer stopped")
					return
				}
				c.logger.Error("error reading from stream", zap.Error(err))
				readErrors.Inc()
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, s := range streams {
				for _, msg := range s.Messages {
					event, err := decodeEvent(msg.ID, msg.Values)
					if err != nil {
						c.logger.Error("error parsing message, acknowledging and skipping",
							zap.String("message_id", msg.ID),
							zap.Error(err))
						decodeFailures.Inc()
						if ackErr := c.Ack(ctx, msg.ID); ackErr != nil {
							c.logger.Error("failed to acknowledge malformed message",
								zap.String("message_id", msg.ID),
								zap.Error(ackErr))
						}
						continue
					}

					select {
					case out <- event:
						eventsConsumed.Inc()
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// Ack marks one message as processed. Callers treat failures as non-fatal:
// the message stays pending and will be redelivered, so processing must
// tolerate repeats.
func (c *Consumer) Ack(ctx context.Context, messageID string) error {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, messageID).Err(); err != nil {
		ackFailures.Inc()
		return err
	}
	return nil
}

// PendingCount returns the group's unacknowledged message count.
// Observability only, not flow control.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	info, err := c.rdb.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, err
	}
	pendingGauge.Set(float64(info.Count))
	return info.Count, nil
}
