// Package metrics holds the Prometheus instruments of the trade core.
// Collectors register with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spotdex"

// Result label values.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultUnavailable = "unavailable"
	ResultReverted    = "reverted"
)

var (
	// OracleReads counts oracle price reads by token and result.
	OracleReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "oracle_reads_total",
			Help:      "Oracle latestRoundData reads",
		},
		[]string{"token", "result"},
	)

	// QuotesUnavailable counts rate computations that fell back to the zero sentinel.
	QuotesUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "unavailable_total",
			Help:      "Exchange rate computations that produced no quote",
		},
	)

	// AllowanceChecks counts allowance reads by result.
	AllowanceChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allowance",
			Name:      "checks_total",
			Help:      "Allowance gate evaluations",
		},
		[]string{"result"},
	)

	// Transactions counts submitted writes by action and outcome.
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "transactions_total",
			Help:      "On-chain writes by action and outcome",
		},
		[]string{"action", "result"},
	)

	// OrderPolls counts order index polls by result.
	OrderPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "order_polls_total",
			Help:      "Order index polls",
		},
		[]string{"result"},
	)

	// LifecycleState is 1 for the current lifecycle state and 0 for the others.
	LifecycleState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "state",
			Help:      "Current order lifecycle state",
		},
		[]string{"state"},
	)

	// TimerRestarts counts cancel-and-recreate restarts of interval loops.
	TimerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "timer_restarts_total",
			Help:      "Interval loop restarts caused by dependency changes",
		},
		[]string{"loop"},
	)
)

// SetLifecycleState marks state as the only active lifecycle state.
func SetLifecycleState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		LifecycleState.WithLabelValues(s).Set(v)
	}
}
