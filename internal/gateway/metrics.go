package gateway

import "github.com/prometheus/client_golang/prometheus"

const outcomeOk = "ok"

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_gateway_calls_total",
			Help: "Total number of gateway calls by backend, method and outcome.",
		},
		[]string{"backend", "method", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ere_gateway_call_duration_seconds",
			Help:    "Gateway call duration in seconds, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
		},
		[]string{"backend", "method"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_gateway_retries_total",
			Help: "Total number of call attempts retried after a connectivity failure.",
		},
		[]string{"backend"},
	)

	recreationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_gateway_session_recreations_total",
			Help: "Total number of server containers relaunched after dying.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(callsTotal)
	prometheus.MustRegister(callDuration)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(recreationsTotal)
}
