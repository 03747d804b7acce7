// Package metrics exposes Prometheus collectors for the crawler service.
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
	jobsTotal                  *prometheus.CounterVec
	queriesTotal               *prometheus.CounterVec
	rendersTotal               *prometheus.CounterVec
	manifestSuccessRate        *prometheus.HistogramVec
	queueMessagesTotal         *prometheus.CounterVec
	inflightJobs               prometheus.Gauge
	uploadsTotal               *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		queriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_queries_total",
				Help: "Search queries executed, labeled by category and final session state.",
			},
			[]string{"category", "state"},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_renders_total",
				Help: "Artifact renders, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		manifestSuccessRate = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ddcrawler_manifest_success_rate",
				Help:    "Per-scope manifest success rate in percent.",
				Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
			},
			[]string{"category"},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_queue_messages_total",
				Help: "Queue messages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		inflightJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ddcrawler_inflight_jobs",
				Help: "Number of jobs currently being processed.",
			},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_uploads_total",
				Help: "Artifact tree uploads, labeled by status.",
			},
			[]string{"status"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddcrawler_download_bytes_total",
				Help: "Bytes fetched by direct document downloads, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ddcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveQuery counts one finished search query.
func ObserveQuery(category, state string) {
	Init()
	queriesTotal.WithLabelValues(category, state).Inc()
}

// ObserveRender counts one render outcome.
func ObserveRender(category, outcome string) {
	Init()
	rendersTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveSuccessRate records a finished scope's manifest success rate.
func ObserveSuccessRate(category string, rate float64) {
	Init()
	manifestSuccessRate.WithLabelValues(category).Observe(rate)
}

// ObserveMessage counts a queue message by outcome (acked, malformed, failed).
func ObserveMessage(outcome string) {
	Init()
	queueMessagesTotal.WithLabelValues(outcome).Inc()
}

// IncInflightJobs increments the in-flight jobs gauge.
func IncInflightJobs() {
	Init()
	inflightJobs.Inc()
}

// DecInflightJobs decrements the in-flight jobs gauge.
func DecInflightJobs() {
	Init()
	inflightJobs.Dec()
}

// ObserveUpload counts one upload attempt.
func ObserveUpload(status string) {
	Init()
	uploadsTotal.WithLabelValues(status).Inc()
}

// ObserveDownload adds fetched bytes for the site of rawURL.
func ObserveDownload(rawURL string, n int64) {
	Init()
	if n > 0 {
		downloadBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
