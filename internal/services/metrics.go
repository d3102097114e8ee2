package services

import "github.com/prometheus/client_golang/prometheus"

var (
	callbackOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callback_outcomes_total",
			Help: "Provider callbacks by reconciliation outcome.",
		},
		[]string{"outcome"},
	)
	initiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_push_initiations_total",
			Help: "STK push initiations by result.",
		},
		[]string{"result"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Applied terminal transitions by source and status.",
		},
		[]string{"source", "status"},
	)
	sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_side_effect_failures_total",
			Help: "Failed post-commit side effects by sink.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(callbackOutcomes, initiations, transitions, sideEffectFailures)
}
