// Package metrics exposes Prometheus collectors for the HTTP surface and the workflow engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perspective_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perspective_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perspective_workflow_steps_total",
			Help: "Workflow steps by name and outcome (executed, memoized, failed)",
		},
		[]string{"step", "outcome"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perspective_workflow_step_duration_seconds",
			Help:    "Duration of executed workflow steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	instancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perspective_workflow_instances_total",
			Help: "Workflow instances by terminal status",
		},
		[]string{"status"},
	)

	instancesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perspective_workflow_instances_running",
			Help: "Workflow instances currently executing in this process",
		},
	)
)

// Step outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeMemoized = "memoized"
	OutcomeFailed   = "failed"
)

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	status := strconv.Itoa(statusCode/100) + "xx"
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordStep counts a step outcome; elapsed is observed only for executed steps.
func RecordStep(step, outcome string, elapsed time.Duration) {
	stepsTotal.WithLabelValues(step, outcome).Inc()
	if outcome == OutcomeExecuted {
		stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	}
}

// InstanceStarted marks an instance as executing.
func InstanceStarted() { instancesRunning.Inc() }

// InstanceFinished records how an instance run ended: a terminal status or
// "interrupted" when the process stopped it.
func InstanceFinished(status string) {
	instancesRunning.Dec()
	instancesTotal.WithLabelValues(status).Inc()
}

// Middleware records request counts and latency per route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			RecordHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start).Seconds())
			return err
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
