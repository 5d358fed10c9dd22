package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_stream_events_consumed_total",
		Help: "Events successfully decoded and delivered to the processor.",
	})

	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_stream_decode_failures_total",
		Help: "Messages with malformed payloads that were acked and skipped.",
	})

	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_stream_read_errors_total",
		Help: "Transient errors reading from the stream.",
	})

	ackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_stream_ack_failures_total",
		Help: "Failed acknowledgment attempts.",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logtriage_stream_pending_messages",
		Help: "Unacknowledged messages in the consumer group at last check.",
	})
)
