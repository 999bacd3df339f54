// Package metrics defines the Prometheus collectors of the encode daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStartedTotal counts encode sessions accepted by the orchestrator.
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xgenc_sessions_started_total",
		Help: "Total encode sessions started",
	})

	// SessionsFinishedTotal counts sessions by their terminal state.
	SessionsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_sessions_finished_total",
		Help: "Total encode sessions finished by terminal state",
	}, []string{"state"})

	// JobsFinishedTotal counts jobs by terminal status.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_jobs_finished_total",
		Help: "Total encode jobs finished by terminal status",
	}, []string{"status"})

	// JobsRunning tracks encoder processes currently owned by a worker slot.
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xgenc_jobs_running",
		Help: "Encode jobs currently running",
	})

	// JobDuration tracks wall time from dispatch to terminal status.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xgenc_job_duration_seconds",
		Help:    "Duration of encode jobs from dispatch to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 16), // 0.5s to ~4.5h
	}, []string{"status"})

	// OverwriteDecisionsTotal counts how output collisions were resolved.
	OverwriteDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_overwrite_decisions_total",
		Help: "Total output collision resolutions by decision and source",
	}, []string{"decision", "source"})

	// DecoderFallbackTotal counts retries with software decoding.
	DecoderFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xgenc_decoder_fallback_total",
		Help: "Total decoder fallback retries by outcome",
	}, []string{"outcome"})
)

// ObserveJobFinished records a terminal job status and its duration (seconds, <0 if never dispatched).
func ObserveJobFinished(status string, seconds float64) {
	JobsFinishedTotal.WithLabelValues(status).Inc()
	if seconds >= 0 {
		JobDuration.WithLabelValues(status).Observe(seconds)
	}
}

// IncOverwriteDecision records an overwrite resolution. source is "user" or "timeout".
func IncOverwriteDecision(decision, source string) {
	OverwriteDecisionsTotal.WithLabelValues(decision, source).Inc()
}
