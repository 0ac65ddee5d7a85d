package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupTier identifies which cache tier answered a read.
type LookupTier string

const (
	// TierMemory means the per-entity in-process cache answered.
	TierMemory LookupTier = "memory"
	// TierSnapshot means the read was served from the global snapshot.
	TierSnapshot LookupTier = "snapshot"
	// TierShared means the valkey tier supplied the snapshot.
	TierShared LookupTier = "shared"
	// TierOrigin means a fresh fetch against the backing store was required.
	TierOrigin LookupTier = "origin"
	// TierFallback means the bundled fallback dataset answered.
	TierFallback LookupTier = "fallback"
)

// Recorder publishes Prometheus metrics for cache and aggregation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	lookups      *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	uploads      *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roamio",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by service and the tier that answered.",
	}, []string{"service", "tier"})

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roamio",
		Subsystem: "aggregation",
		Name:      "fetch_all_total",
		Help:      "Full-collection fetches by service and result.",
	}, []string{"service", "result"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roamio",
		Subsystem: "aggregation",
		Name:      "fetch_all_duration_seconds",
		Help:      "Latency distribution for full-collection fetches.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"service"})

	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roamio",
		Subsystem: "catalog",
		Name:      "uploads_total",
		Help:      "Image upload attempts by result.",
	}, []string{"result"})

	reg.MustRegister(lookups, fetches, fetchLatency, uploads)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:     reg,
		handler:      handler,
		lookups:      lookups,
		fetches:      fetches,
		fetchLatency: fetchLatency,
		uploads:      uploads,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records which tier satisfied a read.
func (r *Recorder) ObserveLookup(service string, tier LookupTier) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues(normalizeLabel(service), string(tier)).Inc()
}

// ObserveFetchAll records the outcome and latency of a full-collection fetch.
func (r *Recorder) ObserveFetchAll(service, result string, duration time.Duration) {
	if r == nil {
		return
	}
	serviceLabel := normalizeLabel(service)
	r.fetches.WithLabelValues(serviceLabel, normalizeLabel(result)).Inc()
	r.fetchLatency.WithLabelValues(serviceLabel).Observe(duration.Seconds())
}

// ObserveUpload records the result of an image upload attempt.
func (r *Recorder) ObserveUpload(result string) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
