// Package metrics exposes Prometheus instrumentation for the server
// and the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted  *prometheus.CounterVec
	RunsFinished *prometheus.CounterVec
	RunsActive   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the metric set with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repopilot_runs_started_total",
			Help: "Pipeline runs started, labeled by execution strategy.",
		}, []string{"strategy"}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repopilot_runs_finished_total",
			Help: "Pipeline runs finished, labeled by outcome.",
		}, []string{"outcome"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repopilot_runs_active",
			Help: "Pipeline runs currently executing.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repopilot_http_requests_total",
			Help: "HTTP requests, labeled by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repopilot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, labeled by method and route.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.RunsStarted, m.RunsFinished, m.RunsActive, m.HTTPRequests, m.HTTPDuration)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route. The echo
// route pattern (not the raw path) keeps label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status

			m.HTTPRequests.WithLabelValues(method, route, httpStatusLabel(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
