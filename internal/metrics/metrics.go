// Package metrics exposes Prometheus collectors for the review service.
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
	discoveryPagesTotal              *prometheus.CounterVec
	discoveryBytesTotal              *prometheus.CounterVec
	discoveryHeadlessPromotionsTotal prometheus.Counter
	probeTLSHandshakeTimeoutTotal    prometheus.Counter
	discoveryRateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal                *prometheus.CounterVec
	httpRequestDurationSeconds       *prometheus.HistogramVec
	capabilityCallsTotal             *prometheus.CounterVec
	capabilityCallDurationSeconds    *prometheus.HistogramVec
	triggersTotal                    *prometheus.CounterVec
	registryCommitsTotal             prometheus.Counter
	sessionsActive                   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveryPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_discovery_pages_total",
				Help: "Total number of pages fetched during discovery, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		discoveryBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_discovery_bytes_total",
				Help: "Total number of bytes fetched during discovery, labeled by site.",
			},
			[]string{"site"},
		)

		discoveryHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "review_discovery_headless_promotions_total",
				Help: "Total probe fetches promoted to a headless browser fetch.",
			},
		)

		probeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "review_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		discoveryRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "review_discovery_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
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

		capabilityCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_capability_calls_total",
				Help: "Total external capability invocations, labeled by capability and status.",
			},
			[]string{"capability", "status"},
		)

		capabilityCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "review_capability_call_duration_seconds",
				Help:    "Histogram of external capability call latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"capability"},
		)

		triggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_triggers_total",
				Help: "Total workflow triggers processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		registryCommitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "review_registry_commits_total",
				Help: "Total decisions committed to the vendor registry.",
			},
		)

		sessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "review_sessions_active",
				Help: "Number of review sessions not yet in a terminal stage.",
			},
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

// ObserveDiscoveryFetch increments the discovery fetch metrics.
func ObserveDiscoveryFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	discoveryPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		discoveryBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion increments the headless promotion counter.
func ObserveHeadlessPromotion() {
	discoveryHeadlessPromotionsTotal.Inc()
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	probeTLSHandshakeTimeoutTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	discoveryRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCapabilityCall records one external capability invocation.
func ObserveCapabilityCall(capability, status string, duration time.Duration) {
	capabilityCallsTotal.WithLabelValues(capability, status).Inc()
	capabilityCallDurationSeconds.WithLabelValues(capability).Observe(duration.Seconds())
}

// ObserveTrigger increments the trigger counter for the given outcome.
func ObserveTrigger(kind, outcome string) {
	triggersTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRegistryCommit increments the registry commit counter.
func ObserveRegistryCommit() {
	registryCommitsTotal.Inc()
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	sessionsActive.Inc()
}

// DecActiveSessions decrements the active sessions gauge.
func DecActiveSessions() {
	sessionsActive.Dec()
}
