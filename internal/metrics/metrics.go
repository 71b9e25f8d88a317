// Package metrics exposes Prometheus collectors for the gestionale service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	queryFailuresTotal         *prometheus.CounterVec
	importSessionsTracked      prometheus.Gauge
	importSessionsEvicted      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		queryFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestionale_query_failures_total",
				Help: "Total number of failed repository calls, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		importSessionsTracked = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gestionale_import_sessions_tracked",
				Help: "Number of import sessions currently held by the in-memory tracker (unused by the redis backend).",
			},
		)

		importSessionsEvicted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gestionale_import_sessions_evicted_total",
				Help: "Total number of completed import sessions evicted after the retention period.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveQueryFailure counts a failed repository call behind endpoint.
func ObserveQueryFailure(endpoint string) {
	if queryFailuresTotal == nil {
		return
	}
	queryFailuresTotal.WithLabelValues(endpoint).Inc()
}

// SetTrackedSessions reports the current size of the in-memory tracker.
func SetTrackedSessions(n int) {
	if importSessionsTracked == nil {
		return
	}
	importSessionsTracked.Set(float64(n))
}

// ObserveSweep records the outcome of one eviction pass.
func ObserveSweep(evicted, remaining int) {
	if importSessionsEvicted == nil {
		return
	}
	importSessionsEvicted.Add(float64(evicted))
	importSessionsTracked.Set(float64(remaining))
}
