// Package metrics exposes decoder activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adalundhe/phrasedec/core/cache"
)

// =============================================================================
// Collectors
// =============================================================================

// Metrics groups the decoder collectors. A nil *Metrics records nothing.
type Metrics struct {
	decodes     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	expanded    *prometheus.CounterVec
	generated   *prometheus.CounterVec
	recombined  *prometheus.CounterVec
	evicted     *prometheus.CounterVec
	states      *prometheus.HistogramVec
	unknown     prometheus.Counter
	cacheEvents *prometheus.CounterVec
}

// New registers the decoder collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "sentences_total",
			Help:      "Decoded sentences by mode and status",
		}, []string{"mode", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "latency_seconds",
			Help:      "Per-sentence decoding latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"}),
		expanded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "expanded_total",
			Help:      "Hypotheses popped and expanded",
		}, []string{"mode"}),
		generated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "generated_total",
			Help:      "Child hypotheses generated",
		}, []string{"mode"}),
		recombined: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "recombined_total",
			Help:      "Hypotheses discarded by recombination",
		}, []string{"mode"}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "evicted_total",
			Help:      "Hypotheses dropped by full stacks",
		}, []string{"mode"}),
		states: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "states",
			Help:      "Recombined search states per sentence",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"mode"}),
		unknown: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "unknown_words_total",
			Help:      "Unknown words in produced translations",
		}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Score cache events by table and kind",
		}, []string{"table", "event"}),
	}
}

// =============================================================================
// Recording
// =============================================================================

// SearchStats is the per-sentence search summary.
type SearchStats struct {
	Expanded   int
	Generated  int
	Recombined int
	Evicted    int
	States     int
}

// ObserveDecode records one finished decode.
func (m *Metrics) ObserveDecode(mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.decodes.WithLabelValues(mode, status).Inc()
	m.latency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveSearch records the search summary of one decode.
func (m *Metrics) ObserveSearch(mode string, s SearchStats) {
	if m == nil {
		return
	}
	m.expanded.WithLabelValues(mode).Add(float64(s.Expanded))
	m.generated.WithLabelValues(mode).Add(float64(s.Generated))
	m.recombined.WithLabelValues(mode).Add(float64(s.Recombined))
	m.evicted.WithLabelValues(mode).Add(float64(s.Evicted))
	m.states.WithLabelValues(mode).Observe(float64(s.States))
}

// ObserveUnknown records unknown words in a translation.
func (m *Metrics) ObserveUnknown(n int) {
	if m == nil || n == 0 {
		return
	}
	m.unknown.Add(float64(n))
}

// ObserveCache adds per-sentence cache counters.
func (m *Metrics) ObserveCache(snapshots []cache.Snapshot) {
	if m == nil {
		return
	}
	for _, s := range snapshots {
		m.cacheEvents.WithLabelValues(s.Name, "hit").Add(float64(s.Hits))
		m.cacheEvents.WithLabelValues(s.Name, "miss").Add(float64(s.Misses))
		m.cacheEvents.WithLabelValues(s.Name, "set").Add(float64(s.Sets))
		m.cacheEvents.WithLabelValues(s.Name, "eviction").Add(float64(s.Evictions))
	}
}
