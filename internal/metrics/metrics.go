// Package metrics provides Prometheus metrics for tokenlab.
//
// Recording an issued token:
//
//	metrics.RecordTokenIssued("secure")
//
// Recording a request:
//
//	start := time.Now()
//	// ... serve request ...
//	metrics.RecordHTTPRequest("/secure/forgot-password", "POST", 200, time.Since(start))
//
// All metrics are registered with the default Prometheus registry and
// exposed via the configured metrics path when enabled.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssuedTotal counts tokens handed out.
	// Labels: strategy (secure, vulnerable)
	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlab_tokens_issued_total",
			Help: "Total password reset tokens issued by strategy",
		},
		[]string{"strategy"},
	)

	// HTTPRequestsTotal counts HTTP requests.
	// Labels: path, method, status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlab_http_requests_total",
			Help: "Total HTTP requests by path, method and status code",
		},
		[]string{"path", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	// Labels: path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenlab_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
		},
		[]string{"path"},
	)
)

// RecordTokenIssued increments the issued counter for strategy.
func RecordTokenIssued(strategy string) {
	TokensIssuedTotal.WithLabelValues(strategy).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(path, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}
