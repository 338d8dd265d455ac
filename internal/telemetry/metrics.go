// Package telemetry provides tracing setup, the shared outbound HTTP client
// and Prometheus metrics for the pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks the wall time of a stage including retries.
	// Labels: tenant, stage, outcome (success, error)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds, retries included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"tenant", "stage", "outcome"},
	)

	// StageAttempts counts every outbound stage attempt.
	// Labels: tenant, stage, result (success or an error kind)
	StageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "pipeline",
			Name:      "stage_attempts_total",
			Help:      "Total number of outbound stage attempts",
		},
		[]string{"tenant", "stage", "result"},
	)

	// QueriesTotal counts answer_query calls.
	// Labels: tenant, outcome (success, error)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total number of answer_query calls",
		},
		[]string{"tenant", "outcome"},
	)

	// TenantReachable reports the startup probe result (1=reachable, 0=unreachable).
	TenantReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "startup",
			Name:      "tenant_reachable",
			Help:      "Startup connectivity probe result per tenant",
		},
		[]string{"tenant"},
	)
)

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
