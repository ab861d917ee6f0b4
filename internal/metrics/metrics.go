// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entitiesTotal              *prometheus.CounterVec
	rowsWrittenTotal           prometheus.Counter
	activeWorkers              prometheus.Gauge
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	publishFailuresTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickercrawl_entities_total",
				Help: "Entities processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rowsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tickercrawl_rows_written_total",
				Help: "Total number of records appended to the record store.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickercrawl_active_workers",
				Help: "Number of workers currently processing an entity.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickercrawl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site and result.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"site", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickercrawl_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tickercrawl_publish_failures_total",
				Help: "Completion notifications that could not be published.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEntity counts one entity outcome (done, failed, skipped) and the rows it wrote.
func ObserveEntity(outcome string, rows int) {
	if entitiesTotal == nil {
		return
	}
	entitiesTotal.WithLabelValues(outcome).Inc()
	if rows > 0 {
		rowsWrittenTotal.Add(float64(rows))
	}
}

// ObserveFetch records one fetch attempt against locator.
func ObserveFetch(locator string, err error, duration time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	fetchDurationSeconds.WithLabelValues(SanitizeSite(locator), result).Observe(duration.Seconds())
}

// ObservePublishFailure counts a completion notification that was dropped.
func ObservePublishFailure() {
	if publishFailuresTotal == nil {
		return
	}
	publishFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
