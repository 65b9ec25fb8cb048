package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allureboard_refresh_duration_seconds",
		Help:    "The time it took to rebuild the result snapshot",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allureboard_refreshes_total",
		Help: "The number of snapshot refreshes since the service was started",
	}, []string{"mode", "result"})

	ResultsLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allureboard_results_loaded",
		Help: "The number of results in the published snapshot",
	}, []string{"mode"})

	SourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allureboard_source_failures_total",
		Help: "The number of result sources that could not be read or parsed",
	}, []string{"mode"})

	IngestedResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allureboard_ingested_results_total",
		Help: "The number of result files handled by the ingest job",
	}, []string{"outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allureboard_http_requests_total",
		Help: "The number of answered api requests",
	}, []string{"route", "code"})
)
