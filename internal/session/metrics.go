package session

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionOpenSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ere_session_open_seconds",
			Help:    "Time from container spawn to a healthy server.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"backend"},
	)

	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ere_sessions_active",
			Help: "Number of open server sessions.",
		},
		[]string{"backend"},
	)

	sessionLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_session_launch_failures_total",
			Help: "Total number of server containers that failed to come up.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(sessionOpenSeconds)
	prometheus.MustRegister(sessionsActive)
	prometheus.MustRegister(sessionLaunchFailures)
}
