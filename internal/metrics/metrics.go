// Package metrics holds the process-wide Prometheus collectors for
// pipeline and job execution, registered via promauto under one
// namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs currently in each status. No component in this
	// module sets it; it stays at zero.
	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipectl",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Number of jobs by status",
		},
		[]string{"status"},
	)

	// ExecutionsTotal counts completed job executions by outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of job executions by outcome",
		},
		[]string{"status", "pipeline_id"},
	)

	// ExecutionDuration tracks handler run time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipectl",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"pipeline_id", "status"},
	)

	// QueueDepth tracks jobs waiting for a concurrency slot, per pipeline.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipectl",
			Subsystem: "queue",
			Name:      "pending_jobs",
			Help:      "Number of jobs queued per pipeline",
		},
		[]string{"pipeline_id"},
	)

	// RetriesTotal counts scheduled retries per pipeline.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of job retries scheduled",
		},
		[]string{"pipeline_id"},
	)

	// CircuitBreaksTotal counts jobs that exceeded the absolute attempt cap.
	CircuitBreaksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "executions",
			Name:      "circuit_breaks_total",
			Help:      "Total number of jobs that hit the absolute retry cap",
		},
		[]string{"pipeline_id"},
	)

	// EventsDroppedTotal counts events dropped because a WebSocket
	// subscriber's buffer was full.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipectl",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped due to a full subscriber buffer",
		},
		[]string{"channel"},
	)

	// DopplerCacheAgeSeconds tracks the age of the cached secrets file.
	DopplerCacheAgeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pipectl",
			Subsystem: "doppler",
			Name:      "cache_age_seconds",
			Help:      "Age of the cached secrets file in seconds, 0 if absent",
		},
	)
)

// RecordExecution records the outcome of one finished job execution.
func RecordExecution(pipelineID, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status, pipelineID).Inc()
	ExecutionDuration.WithLabelValues(pipelineID, status).Observe(durationSeconds)
}
