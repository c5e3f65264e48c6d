package search_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/expansion"
	"github.com/adalundhe/phrasedec/core/smt/heuristic"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/lattice"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/models/modeltest"
	"github.com/adalundhe/phrasedec/core/smt/scorecache"
	"github.com/adalundhe/phrasedec/core/smt/search"
)

type setup struct {
	set    *models.Set
	engine *expansion.Engine
	policy heuristic.Policy
}

func newSetup(t *testing.T, sentence string, maxJump int) setup {
	t.Helper()
	set := modeltest.New(modeltest.Options{})
	cfg := expansion.DefaultConfig()
	cfg.MaxJump = maxJump
	weights, err := expansion.NewWeights(expansion.Features{Tables: 1}, nil)
	require.NoError(t, err)
	engine, err := expansion.New(set, scorecache.New(set.PhraseTable, set.Lexicon, set.Language),
		cfg, weights, expansion.Sentence{Tokens: modeltest.Sentence(sentence)})
	require.NoError(t, err)
	policy, err := heuristic.New(heuristic.LocalTD, engine)
	require.NoError(t, err)
	return setup{set: set, engine: engine, policy: policy}
}

func text(s setup, h *hypothesis.Hypothesis) string {
	return models.TargetString(s.set.Vocabulary, h.Words())
}

// exhaustive returns the best complete score reachable from h.
func exhaustive(e *expansion.Engine, h *hypothesis.Hypothesis) float64 {
	if h.IsComplete() {
		return h.Score()
	}
	best := math.Inf(-1)
	for _, c := range e.Expand(h) {
		best = math.Max(best, exhaustive(e, c))
	}
	return best
}

func TestRun_Translates(t *testing.T) {
	s := newSetup(t, "la casa verde", 0)
	d, err := search.NewDriver(search.DefaultConfig(), s.engine, s.policy)
	require.NoError(t, err)

	res, err := d.Run(context.Background(), search.Translating)
	require.NoError(t, err)
	best := res.Best()
	assert.True(t, best.IsComplete())
	assert.Equal(t, "the green house", text(s, best))
	require.NoError(t, best.Validate())
	assert.Equal(t, search.Idle, d.State())
	assert.Positive(t, res.Stats.Expanded)
	assert.Positive(t, res.Stats.States)
}

func TestRun_RecombinationIsSafe(t *testing.T) {
	for _, jump := range []int{0, 2} {
		s := newSetup(t, "la casa verde", jump)
		cfg := search.DefaultConfig()
		cfg.StackSize = 1000
		d, err := search.NewDriver(cfg, s.engine, nil)
		require.NoError(t, err)

		res, err := d.Run(context.Background(), search.Translating)
		require.NoError(t, err)
		assert.InDelta(t, exhaustive(s.engine, s.engine.Null()), res.Best().Score(), 1e-9, "max jump %d", jump)
		assert.Positive(t, res.Stats.Recombined)
	}
}

func TestRun_JumpLaw(t *testing.T) {
	for _, jump := range []int{0, 1, 2} {
		s := newSetup(t, "el perro come", jump)
		cfg := search.DefaultConfig()
		cfg.NBest = 5
		cfg.StackSize = 100
		d, err := search.NewDriver(cfg, s.engine, s.policy)
		require.NoError(t, err)

		res, err := d.Run(context.Background(), search.Translating)
		require.NoError(t, err)
		for _, h := range res.Hypotheses {
			last := 0
			for _, span := range h.Segmentation() {
				if jump == 0 {
					assert.Equal(t, last+1, span.Left)
				}
				assert.LessOrEqual(t, abs(span.Left-(last+1)), jump)
				last = span.Right
			}
		}
	}
}

func TestRun_NBest(t *testing.T) {
	s := newSetup(t, "la casa", 0)
	cfg := search.DefaultConfig()
	cfg.NBest = 3
	cfg.StackSize = 50
	d, err := search.NewDriver(cfg, s.engine, s.policy)
	require.NoError(t, err)

	res, err := d.Run(context.Background(), search.Translating)
	require.NoError(t, err)
	require.Len(t, res.Hypotheses, 3)
	for i := 1; i < len(res.Hypotheses); i++ {
		assert.GreaterOrEqual(t, res.Hypotheses[i-1].Score(), res.Hypotheses[i].Score())
	}
}

func TestRun_BestFirstAndGlobalPrune(t *testing.T) {
	s := newSetup(t, "la casa verde", 0)
	cfg := search.DefaultConfig()
	cfg.BestFirst = true
	cfg.GlobalPrune = true
	cfg.ExpansionsPerIteration = 2
	d, err := search.NewDriver(cfg, s.engine, s.policy)
	require.NoError(t, err)

	res, err := d.Run(context.Background(), search.Translating)
	require.NoError(t, err)
	assert.True(t, res.Best().IsComplete())
}

func TestRun_WordGraphHasOneFinalState(t *testing.T) {
	s := newSetup(t, "la casa verde", 2)
	g := lattice.NewWordGraph(modeltest.Sentence("la casa verde"),
		s.engine.Features().Names(), s.engine.Weights())
	cfg := search.DefaultConfig()
	cfg.StackSize = 100
	d, err := search.NewDriver(cfg, s.engine, s.policy, search.WithWordGraph(g))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), search.Translating)
	require.NoError(t, err)

	finals := g.Finals()
	require.Len(t, finals, 1)
	assert.Empty(t, g.Outgoing(finals[0]))
	best, ok := g.BestScore()
	require.True(t, ok, "the final state is reachable from the initial one")
	assert.InDelta(t, res.Best().Score(), best, 1e-9)

	g.Trim()
	outgoing := make(map[int]int)
	states := map[int]struct{}{0: {}}
	for _, a := range g.Arcs() {
		assert.NotEmpty(t, a.Words)
		outgoing[a.From]++
		states[a.From] = struct{}{}
		states[a.To] = struct{}{}
	}
	var leaves []int
	for st := range states {
		if outgoing[st] == 0 {
			leaves = append(leaves, st)
		}
	}
	assert.Equal(t, finals, leaves, "exactly one state has no outgoing arcs and it is final")
	assert.Equal(t, d.Recombiner().Len(), res.Stats.States)
}

type stuck struct{}

func (stuck) SourceLength() int { return 2 }
func (stuck) Null() *hypothesis.Hypothesis {
	return hypothesis.Null(2, "", []float64{0}, nil)
}
func (stuck) Expand(*hypothesis.Hypothesis) []*hypothesis.Hypothesis { return nil }
func (stuck) Render(*hypothesis.Hypothesis) ([]string, []int)      { return nil, nil }

func TestRun_Errors(t *testing.T) {
	d, err := search.NewDriver(search.DefaultConfig(), stuck{}, nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), search.Translating)
	assert.ErrorIs(t, err, coreerrors.ErrStarvedSearch)
	assert.True(t, coreerrors.IsFatal(err))

	_, err = d.Run(context.Background(), search.Idle)
	assert.ErrorIs(t, err, coreerrors.ErrInactiveMode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSetup(t, "la casa verde", 0)
	d, err = search.NewDriver(search.DefaultConfig(), s.engine, s.policy)
	require.NoError(t, err)
	_, err = d.Run(ctx, search.Translating)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = search.NewDriver(search.Config{}, s.engine, nil)
	assert.Error(t, err)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
