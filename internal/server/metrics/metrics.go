// Package metrics holds the relay's HTTP-level Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veritas_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	decodeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_decode_outcomes_total",
		Help: "Decode and verify requests by outcome",
	}, []string{"endpoint", "outcome"})

	riskScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veritas_risk_score",
		Help:    "Risk scores computed by the verify endpoint",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	adminAuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_admin_auth_failures_total",
		Help: "Rejected admin requests by reason",
	}, []string{"reason"})
)

// Instrument records request count and latency per matched route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// DecodeOutcome counts one decode or verify result, e.g. "ok",
// "nonce_mismatch" or "upstream_error".
func DecodeOutcome(endpoint, outcome string) {
	decodeOutcomes.WithLabelValues(endpoint, outcome).Inc()
}

// RiskScore records a computed score.
func RiskScore(score int) {
	riskScores.Observe(float64(score))
}

// AdminAuthFailure counts a rejected admin request.
func AdminAuthFailure(reason string) {
	adminAuthFailures.WithLabelValues(reason).Inc()
}
