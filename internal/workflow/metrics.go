package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_workflow_events_processed_total",
		Help: "Events analyzed successfully.",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_workflow_events_failed_total",
		Help: "Events whose analysis failed.",
	})

	eventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_workflow_events_skipped_total",
		Help: "Events skipped for missing log content.",
	})

	deadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_workflow_events_dead_lettered_total",
		Help: "Failed events republished to the dead-letter stream.",
	})

	processingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logtriage_workflow_processing_seconds",
		Help:    "Per-event analysis latency.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
