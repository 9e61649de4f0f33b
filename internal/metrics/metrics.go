// Package metrics holds the Prometheus collectors of the verification pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for ecosync.
// Collectors exist from package init so services can record before
// InitMetrics runs (tests, one-shot maintenance commands).
var Metrics = struct {
	Decisions             *prometheus.CounterVec
	EmbeddingSources      *prometheus.CounterVec
	ExternalFailures      *prometheus.CounterVec
	DuplicateScanDuration *prometheus.HistogramVec
	PurgedPosts           prometheus.Counter
	CreditsAwarded        prometheus.Counter
	EventsDropped         prometheus.Counter
	RequestDuration       *prometheus.HistogramVec
	RequestsInFlight      prometheus.Gauge
}{
	Decisions: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecosync_post_decisions_total",
			Help: "Verification decisions, by final status and decision path.",
		},
		[]string{"status", "path"},
	),
	EmbeddingSources: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecosync_embeddings_total",
			Help: "Embeddings computed, by source tag.",
		},
		[]string{"source"},
	),
	ExternalFailures: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecosync_external_failures_total",
			Help: "Failed calls to external services, by service.",
		},
		[]string{"service"},
	),
	DuplicateScanDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecosync_duplicate_scan_duration_seconds",
			Help:    "Duration of near-duplicate scans, by embedding kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	),
	PurgedPosts: prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecosync_purged_posts_total",
			Help: "Stale rejected posts removed by the purge.",
		},
	),
	CreditsAwarded: prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecosync_credits_awarded_total",
			Help: "Credits granted by verification decisions.",
		},
	),
	EventsDropped: prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecosync_events_dropped_total",
			Help: "Post-decision events that failed to publish.",
		},
	),
	RequestDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecosync_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	),
	RequestsInFlight: prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecosync_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	),
}

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Metrics.Decisions,
			Metrics.EmbeddingSources,
			Metrics.ExternalFailures,
			Metrics.DuplicateScanDuration,
			Metrics.PurgedPosts,
			Metrics.CreditsAwarded,
			Metrics.EventsDropped,
			Metrics.RequestDuration,
			Metrics.RequestsInFlight,
		)
	})
}

// RecordDecision counts a finished verification.
func RecordDecision(status, path string, credits int) {
	Metrics.Decisions.WithLabelValues(status, path).Inc()
	if credits > 0 {
		Metrics.CreditsAwarded.Add(float64(credits))
	}
}
