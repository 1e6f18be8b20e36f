package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics instrument the reconciler and enrichment loops.
type WorkerMetrics struct {
	// Counts of reconciliation runs, partitioned by batch and status.
	ReconcileRuns *prometheus.CounterVec

	// Commitments whose envelope could not be located off-ledger, per
	// batch, as of the latest reconciliation.
	UnavailableRows *prometheus.GaugeVec

	// Timeline rows per batch as of the latest reconciliation.
	TimelineRows *prometheus.GaugeVec
}

// NewDefaultWorkerMetrics creates Prometheus metric instrumentation for
// a background worker.
func NewDefaultWorkerMetrics(worker string) WorkerMetrics {
	metrics := WorkerMetrics{
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_reconcile_runs", worker),
				Help: "How many reconciliation runs completed, partitioned by batch and status.",
			},
			[]string{"batch", "status"},
		),
		UnavailableRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_unavailable_rows", worker),
				Help: "Commitments with no matching off-ledger envelope, per batch.",
			},
			[]string{"batch"},
		),
		TimelineRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_timeline_rows", worker),
				Help: "Timeline rows per batch.",
			},
			[]string{"batch"},
		),
	}
	prometheus.MustRegister(metrics.ReconcileRuns)
	prometheus.MustRegister(metrics.UnavailableRows)
	prometheus.MustRegister(metrics.TimelineRows)
	return metrics
}
