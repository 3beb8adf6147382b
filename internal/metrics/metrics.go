// Package metrics exposes Prometheus collectors for the crawler and corpus builder.
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
	crawlerPagesTotal                    *prometheus.CounterVec
	crawlerBytesTotal                    *prometheus.CounterVec
	crawlerFetchDurationSeconds          *prometheus.HistogramVec
	crawlerExtractionsTotal              *prometheus.CounterVec
	crawlerOCRPagesTotal                 prometheus.Counter
	crawlerProbeTLSHandshakeTimeoutTotal prometheus.Counter
	crawlerActiveWorkers                 prometheus.Gauge
	crawlerRateLimitDelaysSeconds        *prometheus.HistogramVec
	corpusRecordsTotal                   *prometheus.CounterVec
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages reaching a terminal state, labeled by site and state.",
			},
			[]string{"site", "state"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by whether a headless browser was used.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"headless"},
		)

		crawlerExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_extractions_total",
				Help: "Total number of successful extractions, labeled by method (html, txt, pdf-text, pdf-ocr).",
			},
			[]string{"method"},
		)

		crawlerOCRPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_ocr_pages_total",
				Help: "Total number of PDF pages rasterized and passed through OCR.",
			},
		)

		crawlerProbeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		corpusRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_records_total",
				Help: "Total number of records classified by the corpus builder, labeled by outcome.",
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

// ObservePage records a page reaching a terminal state.
func ObservePage(site string, state string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, state).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records fetch latency.
func ObserveFetch(headless bool, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(strconv.FormatBool(headless)).Observe(duration.Seconds())
}

// ObserveExtraction increments the extraction counter for method.
func ObserveExtraction(method string) {
	Init()
	crawlerExtractionsTotal.WithLabelValues(method).Inc()
}

// ObserveOCRPage increments the OCR page counter.
func ObserveOCRPage() {
	Init()
	crawlerOCRPagesTotal.Inc()
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	crawlerProbeTLSHandshakeTimeoutTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCorpusRecord increments the corpus builder counter for outcome.
func ObserveCorpusRecord(outcome string) {
	Init()
	corpusRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
