package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_deduped_total",
			Help: "Total number of enqueues answered with an existing job id",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed terminally",
		},
		[]string{"kind"},
	)
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of job retries scheduled",
		},
		[]string{"kind"},
	)
	JobsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_swept_total",
			Help: "Total number of stuck processing jobs reclaimed by the sweeper",
		},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs per status",
		},
		[]string{"status"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"kind"},
	)
	ItemsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_fetched_total",
			Help: "Raw items persisted per source kind",
		},
		[]string{"source_kind"},
	)
	ItemsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_skipped_total",
			Help: "Fetched items skipped per reason (duplicate, invalid, filtered)",
		},
		[]string{"reason"},
	)
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Language model requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fallback_total",
			Help: "Analyses served by the lexical fallback path",
		},
		[]string{"operation"},
	)
)

// InitMetrics registers all collectors with the default registry.
// Safe to call once per process.
func InitMetrics() {
	prometheus.MustRegister(
		JobsEnqueuedTotal,
		JobsDedupedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		JobsRetriedTotal,
		JobsSweptTotal,
		QueueDepth,
		HandlerDuration,
		ItemsFetchedTotal,
		ItemsSkippedTotal,
		AIRequestsTotal,
		AIFallbackTotal,
	)
}
