// Package metrics exposes the pipeline's operational counters and gauges
// via github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_orders_placed_total",
		Help: "Orders placed, by order type (adaptive or limit).",
	}, []string{"order_type"})

	fills = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_fills_total",
		Help: "Orders observed filled, across all monitoring stages.",
	})

	adjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_adjustments_total",
		Help: "Cancel-and-replace repricing events, by stage.",
	}, []string{"stage"})

	warnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_warnings_total",
		Help: "Warnings recorded on the execution report.",
	})

	candidatesStaged = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_candidates_staged",
		Help: "Candidates staged in the most recent run.",
	})
)

func init() {
	prometheus.MustRegister(ordersPlaced, fills, adjustments, warnings, candidatesStaged)
}

// IncOrderPlaced records one order submission of the given type.
func IncOrderPlaced(orderType string) {
	ordersPlaced.WithLabelValues(orderType).Inc()
}

// IncFill records one order transitioning to filled.
func IncFill() {
	fills.Inc()
}

// IncAdjustment records one cancel-and-replace reprice at the named stage
// (tier1, tier2, or fillmanager).
func IncAdjustment(stage string) {
	adjustments.WithLabelValues(stage).Inc()
}

// IncWarning records one warning added to an execution report.
func IncWarning() {
	warnings.Inc()
}

// SetCandidatesStaged records the staged count for the current run.
func SetCandidatesStaged(n int) {
	candidatesStaged.Set(float64(n))
}
