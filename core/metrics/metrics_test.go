package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/phrasedec/core/cache"
	"github.com/adalundhe/phrasedec/core/metrics"
)

func counterTotals(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				out[mf.GetName()] += float64(h.GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "phrasedec")

	m.ObserveDecode("translate", nil, 20*time.Millisecond)
	m.ObserveDecode("translate", errors.New("boom"), time.Millisecond)
	m.ObserveSearch("translate", metrics.SearchStats{Expanded: 4, Generated: 10, Recombined: 2, Evicted: 1, States: 6})
	m.ObserveUnknown(2)
	m.ObserveCache([]cache.Snapshot{{Name: "ngram", Hits: 3, Misses: 1, Sets: 1}})

	totals := counterTotals(t, reg)
	assert.Equal(t, 2.0, totals["phrasedec_decoder_sentences_total"])
	assert.Equal(t, 2.0, totals["phrasedec_decoder_latency_seconds"])
	assert.Equal(t, 4.0, totals["phrasedec_search_expanded_total"])
	assert.Equal(t, 10.0, totals["phrasedec_search_generated_total"])
	assert.Equal(t, 2.0, totals["phrasedec_search_recombined_total"])
	assert.Equal(t, 1.0, totals["phrasedec_search_evicted_total"])
	assert.Equal(t, 1.0, totals["phrasedec_search_states"])
	assert.Equal(t, 2.0, totals["phrasedec_decoder_unknown_words_total"])
	assert.Equal(t, 5.0, totals["phrasedec_cache_events_total"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecode("translate", nil, time.Second)
		m.ObserveSearch("translate", metrics.SearchStats{})
		m.ObserveUnknown(1)
		m.ObserveCache(nil)
	})
}
