package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtriage_ingest_events_published_total",
		Help: "Log events published to the stream, by source.",
	}, []string{"source"})

	webhooksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_ingest_webhooks_rejected_total",
		Help: "Webhook deliveries rejected for bad signature or payload.",
	})

	webhooksIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_ingest_webhooks_ignored_total",
		Help: "Webhook deliveries ignored as irrelevant (wrong event, not a failure).",
	})

	requestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtriage_ingest_requests_throttled_total",
		Help: "Requests refused by the per-client rate limiter.",
	})
)
