// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperJobsTotal             *prometheus.CounterVec
	scraperJobDurationSeconds    *prometheus.HistogramVec
	scraperActiveJobs            prometheus.Gauge
	scraperListingsTotal         *prometheus.CounterVec
	scraperAdapterErrorsTotal    *prometheus.CounterVec
	scraperFetchesTotal          *prometheus.CounterVec
	scraperFetchBytesTotal       *prometheus.CounterVec
	scraperRateLimitDelaySeconds *prometheus.HistogramVec
	scraperReviewsTotal          *prometheus.CounterVec
	scraperImportsTotal          *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Scrape jobs that reached a terminal state, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		scraperJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_job_duration_seconds",
				Help:    "Wall-clock duration of scrape jobs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"source"},
		)

		scraperActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_jobs",
				Help: "Number of scrape jobs currently running.",
			},
		)

		scraperListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_listings_total",
				Help: "Listings staged, labeled by source and outcome (new, duplicate, error).",
			},
			[]string{"source", "outcome"},
		)

		scraperAdapterErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_adapter_errors_total",
				Help: "Source adapter failures, labeled by source.",
			},
			[]string{"source"},
		)

		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Marketplace page fetches, labeled by site, mode and status.",
			},
			[]string{"site", "mode", "status"},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Bytes fetched from marketplaces, labeled by site.",
			},
			[]string{"site"},
		)

		scraperRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-site rate limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperReviewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_reviews_total",
				Help: "Review decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		scraperImportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_imports_total",
				Help: "Listings processed by the import merger, labeled by outcome.",
			},
			[]string{"outcome"},
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

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// ObserveJob records a terminal job.
func ObserveJob(source, status string, duration time.Duration) {
	Init()
	scraperJobsTotal.WithLabelValues(source, status).Inc()
	scraperJobDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveJobs increments the running jobs gauge.
func IncActiveJobs() {
	Init()
	scraperActiveJobs.Inc()
}

// DecActiveJobs decrements the running jobs gauge.
func DecActiveJobs() {
	Init()
	scraperActiveJobs.Dec()
}

// ObserveListing counts one staged listing.
func ObserveListing(source, outcome string) {
	Init()
	scraperListingsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveAdapterError counts one adapter failure.
func ObserveAdapterError(source string) {
	Init()
	scraperAdapterErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveFetch counts one page fetch.
func ObserveFetch(rawURL, mode string, statusCode, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	scraperFetchesTotal.WithLabelValues(site, mode, strconv.Itoa(statusCode)).Inc()
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scraperRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveReview counts a review decision.
func ObserveReview(decision string) {
	Init()
	scraperReviewsTotal.WithLabelValues(decision).Inc()
}

// ObserveImport adds n listings to an import outcome.
func ObserveImport(outcome string, n int) {
	Init()
	if n > 0 {
		scraperImportsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
