// Package metrics provides prometheus instrumentation for tidesync
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts pipeline executions by outcome
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidesync_runs_total",
		Help: "Pipeline executions by outcome.",
	}, []string{"pipeline", "status"})

	// RowsTotal counts synced rows by classification
	RowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidesync_rows_total",
		Help: "Source rows processed, classified as new, updated or same.",
	}, []string{"pipeline", "result"})

	// TruncatedRunsTotal counts runs whose source ended on an error rather
	// than genuine exhaustion
	TruncatedRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidesync_truncated_runs_total",
		Help: "Runs where the source signalled truncation instead of exhaustion.",
	}, []string{"pipeline"})

	// SchemaDriftTotal counts detected source schema changes
	SchemaDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidesync_schema_drift_total",
		Help: "Source schema changes detected between runs.",
	}, []string{"pipeline"})

	// RunDuration reports the duration of the most recent run
	RunDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tidesync_last_run_duration_seconds",
		Help: "Duration of the most recent run per pipeline.",
	}, []string{"pipeline"})

	// StaleLocksCleared counts execution locks reset by the scheduler
	StaleLocksCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidesync_stale_locks_cleared_total",
		Help: "Execution locks cleared after exceeding the stale-lock timeout.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
