package mpesa

import "github.com/prometheus/client_golang/prometheus"

var (
	// providerReqs counts provider calls by endpoint and status ("error" on transport failure).
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_requests_total",
			Help: "Total number of requests sent to the M-Pesa API.",
		},
		[]string{"endpoint", "status"},
	)

	providerLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpesa_request_duration_seconds",
			Help:    "Duration of M-Pesa API requests in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// tokenRefreshes counts network refreshes of the access token by result.
	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_token_refresh_total",
			Help: "Access token refreshes by result (ok|error).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(providerReqs, providerLat, tokenRefreshes)
}
