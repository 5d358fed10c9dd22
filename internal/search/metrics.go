package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtriage_search_queries_total",
		Help: "Knowledge base queries by mode.",
	}, []string{"mode"})

	docsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logtriage_search_documents",
		Help: "Documents currently indexed.",
	})
)
