package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileChecked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "checked_escrows",
		Help:      "Number of escrows examined in the last audit run.",
	})

	reconcileStateMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "state_mismatches",
		Help:      "Escrows whose state disagrees with their trade's status, last run.",
	})

	reconcileConservation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "conservation_violations",
		Help:      "Resolved escrows whose released+refunded sum differs from the locked amount, last run.",
	})

	reconcileOrphans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "orphaned_escrows",
		Help:      "Escrows referencing a trade that does not exist, last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hundi",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation audit errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileChecked,
		reconcileStateMismatches,
		reconcileConservation,
		reconcileOrphans,
		reconcileDuration,
		reconcileErrors,
	)
}

func (r *Report) observe() {
	reconcileChecked.Set(float64(r.CheckedEscrows))
	reconcileStateMismatches.Set(float64(r.StateMismatches))
	reconcileConservation.Set(float64(r.ConservationViolations))
	reconcileOrphans.Set(float64(r.OrphanedEscrows))
	reconcileDuration.Observe(r.Duration.Seconds())
}
