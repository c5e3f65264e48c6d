package decoder_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/phrasedec/core/config"
	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/metrics"
	"github.com/adalundhe/phrasedec/core/smt/decoder"
	"github.com/adalundhe/phrasedec/core/smt/expansion"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/models/modeltest"
)

func newDecoder(t *testing.T, mutate func(*config.DecoderConfig), opts ...decoder.Option) *decoder.Decoder {
	t.Helper()
	cfg := config.DefaultConfig().Decoder
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := decoder.New(cfg, modeltest.New(modeltest.Options{}), opts...)
	require.NoError(t, err)
	return d
}

func sum(m map[string]float64) float64 {
	total := 0.0
	for _, v := range m {
		total += v
	}
	return total
}

func TestTranslate(t *testing.T) {
	d := newDecoder(t, nil)

	res, err := d.Translate(context.Background(), "la casa verde")
	require.NoError(t, err)
	best := res.Best()
	assert.Equal(t, "the green house", best.Text)
	assert.Equal(t, []string{"the", "green", "house"}, best.Words)
	assert.Empty(t, best.Unknown)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "translate", res.Mode)
	require.NoError(t, best.Hypothesis().Validate())

	assert.InDelta(t, best.Score, sum(best.Components), 1e-9)
	stepTotal := 0.0
	produced := 0
	for _, st := range best.Steps {
		stepTotal += st.Score
		produced += len(st.Target)
		assert.InDelta(t, st.Score, sum(st.Components), 1e-9)
	}
	assert.InDelta(t, best.Score, stepTotal, 1e-9)
	assert.Equal(t, len(best.Words), produced)
	require.Len(t, best.Alignment, len(best.Steps))
	assert.Equal(t, 1, best.Alignment[0].TargetStart)
}

func TestTranslate_UnseenWord(t *testing.T) {
	d := newDecoder(t, nil)

	res, err := d.Translate(context.Background(), "la gato")
	require.NoError(t, err)
	best := res.Best()
	assert.Equal(t, "the gato", best.Text)
	assert.Equal(t, []int{2}, best.Unknown)
	require.Len(t, best.Steps, 2)
	assert.True(t, best.Steps[1].Unknown)
	assert.Equal(t, []string{"gato"}, best.Steps[1].Target)
}

func TestTranslate_Deterministic(t *testing.T) {
	d := newDecoder(t, func(c *config.DecoderConfig) { c.MaxJump = 2; c.NBest = 3; c.StackSize = 50 })

	first, err := d.Translate(context.Background(), "el perro come")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := d.Translate(context.Background(), "el perro come")
		require.NoError(t, err)
		require.Len(t, again.NBest, len(first.NBest))
		for k := range first.NBest {
			assert.Equal(t, first.NBest[k].Text, again.NBest[k].Text)
			assert.Equal(t, first.NBest[k].Score, again.NBest[k].Score)
		}
	}
	assert.Equal(t, "the dog eats", first.Best().Text)
}

func TestTranslateWithPrefix(t *testing.T) {
	d := newDecoder(t, nil)

	res, err := d.TranslateWithPrefix(context.Background(), "la casa verde", "the green ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Best().Text, "the green"))
	assert.Equal(t, "the green house", res.Best().Text)

	res, err = d.TranslateWithPrefix(context.Background(), "la casa verde", "the gre")
	require.NoError(t, err)
	assert.Equal(t, "the green house", res.Best().Text, "a partial last word is completed")
	assert.Equal(t, "prefix", res.Mode)
}

type lookupCounter struct {
	models.PhraseTable
	lookups map[string]int
}

func (c *lookupCounter) Translations(src models.Phrase) ([]models.Phrase, bool) {
	c.lookups[src.Key()]++
	return c.PhraseTable.Translations(src)
}

func TestTranslateWithPrefix_OneTableQueryPerPhrase(t *testing.T) {
	set := modeltest.New(modeltest.Options{})
	counter := &lookupCounter{PhraseTable: set.PhraseTable, lookups: map[string]int{}}
	set.PhraseTable = counter
	cfg := config.DefaultConfig().Decoder
	cfg.MaxJump = 2
	d, err := decoder.New(cfg, set)
	require.NoError(t, err)

	_, err = d.TranslateWithPrefix(context.Background(), "el perro come la casa verde", "the dog ")
	require.NoError(t, err)
	require.NotEmpty(t, counter.lookups)
	for key, n := range counter.lookups {
		assert.Equal(t, 1, n, "phrase %q", key)
	}
}

func TestTranslateWithReference(t *testing.T) {
	d := newDecoder(t, nil)

	res, err := d.TranslateWithReference(context.Background(), "la casa verde", "the green house")
	require.NoError(t, err)
	assert.Equal(t, "the green house", res.Best().Text)

	res, err = d.VerifyCoverage(context.Background(), "la casa verde", "the green house")
	require.NoError(t, err)
	assert.Equal(t, "the green house", res.Best().Text)

	_, err = d.VerifyCoverage(context.Background(), "la casa verde", "a dog")
	assert.ErrorIs(t, err, coreerrors.ErrStarvedSearch, "the regular options cannot produce the reference")
	assert.True(t, coreerrors.IsFatal(err))
}

func TestTranslate_WordGraph(t *testing.T) {
	d := newDecoder(t, func(c *config.DecoderConfig) {
		c.MaxJump = 2
		c.StackSize = 100
		c.WordGraph = config.WordGraphConfig{Enabled: true, Trim: true}
	})

	res, err := d.Translate(context.Background(), "la casa verde")
	require.NoError(t, err)
	require.NotNil(t, res.Graph)
	require.Len(t, res.Graph.Finals(), 1)
	best, ok := res.Graph.BestScore()
	require.True(t, ok)
	assert.InDelta(t, res.Best().Score, best, 1e-9)

	var idx strings.Builder
	require.NoError(t, res.WriteStateIndex(&idx))
	assert.True(t, strings.HasPrefix(idx.String(), "# SOURCE SENTENCE: la casa verde\n"))
	assert.Equal(t, res.Stats.States+2, strings.Count(idx.String(), "\n"))

	var wg strings.Builder
	_, err = res.Graph.WriteTo(&wg)
	require.NoError(t, err)
	assert.Contains(t, wg.String(), "# COMPONENTS:")
}

func TestTranslate_CoverageRecombination(t *testing.T) {
	d := newDecoder(t, func(c *config.DecoderConfig) { c.Recombination = "coverage" })
	res, err := d.Translate(context.Background(), "la casa verde")
	require.NoError(t, err)
	assert.True(t, res.Best().Hypothesis().IsComplete())
}

func TestTranslate_MetricsAndObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	var steps atomic.Int64
	d := newDecoder(t, nil,
		decoder.WithMetrics(metrics.New(reg, "phrasedec")),
		decoder.WithObserver(func(expansion.Step) { steps.Add(1) }))

	_, err := d.Translate(context.Background(), "la casa")
	require.NoError(t, err)
	_, err = d.Translate(context.Background(), "")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var decodes float64
	for _, mf := range families {
		if mf.GetName() == "phrasedec_decoder_sentences_total" {
			for _, m := range mf.GetMetric() {
				decodes += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, decodes)
	assert.Positive(t, steps.Load())
}

func TestTranslate_Canceled(t *testing.T) {
	d := newDecoder(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Translate(ctx, "la casa verde")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Errors(t *testing.T) {
	set := modeltest.New(modeltest.Options{})

	cfg := config.DefaultConfig().Decoder
	cfg.Heuristic = "oracle"
	_, err := decoder.New(cfg, set)
	assert.Equal(t, coreerrors.KindConfiguration, coreerrors.GetKind(err))

	cfg = config.DefaultConfig().Decoder
	cfg.Weights = map[string]float64{"bogus": 1}
	_, err = decoder.New(cfg, set)
	assert.Error(t, err)

	cfg = config.DefaultConfig().Decoder
	cfg.StackSize = 0
	_, err = decoder.New(cfg, set)
	assert.Error(t, err)

	_, err = decoder.New(config.DefaultConfig().Decoder, nil)
	assert.Error(t, err)
}

func TestWeights(t *testing.T) {
	d := newDecoder(t, func(c *config.DecoderConfig) { c.Weights = map[string]float64{"lm": 0.5} })
	assert.Equal(t, []string{"wp", "lm", "tseglen", "sjump", "sseglen", "pts", "pst"}, d.Features())
	assert.Equal(t, 0.5, d.Weights()["lm"])
	assert.Equal(t, 1.0, d.Weights()["wp"])
}
