package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_connect_attempts_total",
			Help: "Connect attempts per wallet provider.",
		},
		[]string{"provider"},
	)

	connectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_connect_failures_total",
			Help: "Classified connect failures per provider and kind.",
		},
		[]string{"provider", "kind"},
	)

	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wallet_connect_duration_seconds",
			Help:    "Wall time of full connect negotiations, user prompts included.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	settlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Terminal settlement outcomes.",
		},
		[]string{"outcome"},
	)

	settlementPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_poll_cycles_total",
			Help: "Subscription status poll cycles while awaiting settlement.",
		},
	)

	watchdogInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_invalidations_total",
			Help: "Sessions invalidated after change-address drift.",
		},
	)
)

// Register installs the collectors into the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			connectAttempts,
			connectFailures,
			connectDuration,
			settlementOutcomes,
			settlementPolls,
			watchdogInvalidations,
		)
	})
}

func IncConnectAttempt(provider string) {
	connectAttempts.WithLabelValues(provider).Inc()
}

func IncConnectFailure(provider, kind string) {
	connectFailures.WithLabelValues(provider, kind).Inc()
}

func ObserveConnectDuration(seconds float64) {
	connectDuration.Observe(seconds)
}

func IncSettlementOutcome(outcome string) {
	settlementOutcomes.WithLabelValues(outcome).Inc()
}

func IncSettlementPoll() {
	settlementPolls.Inc()
}

func IncWatchdogInvalidation() {
	watchdogInvalidations.Inc()
}
