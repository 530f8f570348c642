package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification outcomes.
const (
	OutcomeValid       = "valid"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Lookup sources.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceBackend = "backend"
)

// Collector holds the service's Prometheus collectors. A nil *Collector is
// valid and records nothing.
type Collector struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	keyLookups    *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewCollector registers all collectors on reg. Pass prometheus.NewRegistry()
// in tests so registrations do not collide.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcverify",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nfcverify",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcverify",
			Name:      "verifications_total",
			Help:      "Tag verification attempts by outcome and result source.",
		}, []string{"outcome", "source"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcverify",
			Name:      "auth_failures_total",
			Help:      "Rejected API keys by reason.",
		}, []string{"reason"}),
		keyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcverify",
			Name:      "api_key_lookups_total",
			Help:      "Successful API key lookups by source.",
		}, []string{"source"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcverify",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(c.requests, c.duration, c.verifications, c.authFailures, c.keyLookups, c.rateLimited)
	return c
}

func (c *Collector) Record(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) Verification(outcome, source string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(outcome, source).Inc()
}

func (c *Collector) AuthFailure(reason string) {
	if c == nil {
		return
	}
	c.authFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) KeyLookup(source string) {
	if c == nil {
		return
	}
	c.keyLookups.WithLabelValues(source).Inc()
}

func (c *Collector) RateLimited(route string) {
	if c == nil {
		return
	}
	c.rateLimited.WithLabelValues(route).Inc()
}

// Handler serves the exposition format for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
