package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cpeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpe_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	cpeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpe_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	cpeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpe_proof_operations_total",
		Help: "Total proof engine operations by type and outcome.",
	}, []string{"operation", "outcome"})

	cpeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpe_proof_operation_duration_seconds",
		Help:    "Proof engine operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	cpeLedgerSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpe_ledger_submissions_total",
		Help: "Total ledger submissions by outcome.",
	}, []string{"outcome"})

	cpeLedgerSubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cpe_ledger_submission_duration_seconds",
		Help:    "Ledger submission duration in seconds, including retries.",
		Buckets: prometheus.DefBuckets,
	})

	cpeLedgerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpe_ledger_retries_total",
		Help: "Total ledger submission retry attempts.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		cpeRequestsTotal.WithLabelValues(method, path, status).Inc()
		cpeRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordOperation records one proof engine operation. It satisfies the
// service's MetricsRecorder hook.
func RecordOperation(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	cpeOperationsTotal.WithLabelValues(operation, outcome).Inc()
	cpeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLedgerSubmission records a completed ledger submission. It satisfies
// the service's SubmissionRecorder hook.
func RecordLedgerSubmission(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	cpeLedgerSubmissionsTotal.WithLabelValues(outcome).Inc()
	cpeLedgerSubmissionDuration.Observe(duration.Seconds())
}

// RecordLedgerRetry records one retried ledger submission attempt. It
// satisfies the hgtp client's RetryObserver hook.
func RecordLedgerRetry(string) {
	cpeLedgerRetriesTotal.Inc()
}
