// Package metrics exposes Prometheus collectors for the content pipeline.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	validationScore            *prometheus.HistogramVec
	gateDecisionsTotal         *prometheus.CounterVec
	uploadsTotal               *prometheus.CounterVec
	pipelineURLsTotal          *prometheus.CounterVec
	pipelineRunsTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_attempts_total",
				Help: "Fetch strategy attempts, labeled by site, strategy and outcome.",
			},
			[]string{"site", "strategy", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_bytes_total",
				Help: "Bytes of accepted document text, labeled by site.",
			},
			[]string{"site"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_extractions_total",
				Help: "Extraction outcomes, labeled by winning strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		validationScore = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_validation_score",
				Help:    "Composite validation score per record.",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"passed"},
		)

		gateDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_safety_gate_total",
				Help: "Safety gate decisions, labeled by source and decision.",
			},
			[]string{"source", "decision"},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_uploads_total",
				Help: "Object writes, labeled by kind (record or manifest) and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		pipelineURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_urls_total",
				Help: "Per-URL outcomes, labeled by source and the stage the URL stopped at.",
			},
			[]string{"source", "stage"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Pipeline runs, labeled by source and final status.",
			},
			[]string{"source", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_delay_seconds",
				Help:    "Histogram of global fetch throttle waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveFetchAttempt counts one strategy attempt.
func ObserveFetchAttempt(site, strategy, outcome string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitized, strategy, outcome).Inc()
	if outcome == "accepted" && bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveExtraction counts one extraction outcome.
func ObserveExtraction(strategy string, success bool) {
	Init()
	extractionsTotal.WithLabelValues(strategy, outcomeLabel(success)).Inc()
}

// ObserveValidation records a record's composite score.
func ObserveValidation(score float64, passed bool) {
	Init()
	validationScore.WithLabelValues(strconv.FormatBool(passed)).Observe(score)
}

// ObserveGate counts a safety gate decision.
func ObserveGate(source string, safe bool) {
	Init()
	decision := "rejected"
	if safe {
		decision = "accepted"
	}
	gateDecisionsTotal.WithLabelValues(source, decision).Inc()
}

// ObserveUpload counts one object write.
func ObserveUpload(kind string, success bool) {
	Init()
	uploadsTotal.WithLabelValues(kind, outcomeLabel(success)).Inc()
}

// ObserveURL counts a URL leaving the pipeline at stage.
func ObserveURL(source, stage string) {
	Init()
	pipelineURLsTotal.WithLabelValues(source, stage).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(source, status string) {
	Init()
	pipelineRunsTotal.WithLabelValues(source, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
