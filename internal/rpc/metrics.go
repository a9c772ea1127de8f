package rpc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatched = "unmatched"

// Backend call outcomes.
const (
	outcomeOk    = "ok"
	outcomeErr   = "err"
	outcomePanic = "panic"
)

var (
	serverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_server_http_requests_total",
			Help: "Total number of HTTP requests served by the backend server.",
		},
		[]string{"method", "path", "status"},
	)

	serverRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ere_server_http_request_duration_seconds",
			Help:    "Backend server HTTP request duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"method", "path"},
	)

	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ere_server_backend_calls_total",
			Help: "Total number of backend calls by RPC method and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(serverRequestsTotal)
	prometheus.MustRegister(serverRequestDuration)
	prometheus.MustRegister(backendCallsTotal)
}

// metricsMiddleware records request count and duration using the chi route
// pattern as the path label.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		serverRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		serverRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
