package lattice_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/lattice"
	"github.com/adalundhe/phrasedec/core/smt/models"
)

func TestRecombiner_Observe(t *testing.T) {
	r := lattice.NewRecombiner()
	null := hypothesis.Null(2, "s", []float64{0}, nil)

	idx, keep := r.Observe(null)
	assert.Equal(t, lattice.InitialState, idx)
	assert.True(t, keep)

	worse, err := null.Extend(hypothesis.Span{Left: 1, Right: 1}, models.Phrase{5}, "x", []float64{-3})
	require.NoError(t, err)
	better, err := null.Extend(hypothesis.Span{Left: 1, Right: 1}, models.Phrase{6}, "x", []float64{-1})
	require.NoError(t, err)
	require.Equal(t, worse.Key(), better.Key())

	idx, keep = r.Observe(worse)
	assert.Equal(t, 1, idx)
	assert.True(t, keep, "new key")

	idx, keep = r.Observe(better)
	assert.Equal(t, 1, idx)
	assert.True(t, keep, "strictly better")

	idx, keep = r.Observe(worse)
	assert.Equal(t, 1, idx)
	assert.False(t, keep)

	best, ok := r.Best(better.Key())
	require.True(t, ok)
	assert.Equal(t, -1.0, best)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.Merged())

	var buf bytes.Buffer
	require.NoError(t, r.WriteStateIndex(&buf, "a b"))
	assert.Equal(t, "# SOURCE SENTENCE: a b\n#\n0 00 0\n1 10 -1\n", buf.String())

	r.Reset()
	assert.Zero(t, r.Len())
	_, ok = r.Index(better.Key())
	assert.False(t, ok)
}

// diamond builds 0 -> 1 -> 3 and 0 -> 2 -> 3 with 3 final, plus a dead end 0 -> 4.
func diamond() *lattice.WordGraph {
	g := lattice.NewWordGraph([]string{"a", "b"}, []string{"wp", "lm"}, []float64{1, 2})
	g.SetInitialScore(-0.5)
	g.AddArc(0, 1, []string{"x"}, hypothesis.Span{Left: 1, Right: 1}, false, []float64{-1, -2})
	g.AddArc(0, 2, []string{"y"}, hypothesis.Span{Left: 2, Right: 2}, false, []float64{-1, -4})
	g.AddArc(1, 3, []string{"z"}, hypothesis.Span{Left: 2, Right: 2}, false, []float64{-1, 0})
	g.AddArc(2, 3, []string{"z"}, hypothesis.Span{Left: 1, Right: 1}, true, []float64{-1, 0})
	g.AddArc(0, 4, []string{"w"}, hypothesis.Span{Left: 1, Right: 2}, false, []float64{-1, 0})
	g.AddFinal(3)
	return g
}

func TestWordGraph_Arcs(t *testing.T) {
	g := diamond()
	assert.NotEmpty(t, g.ID())
	assert.Equal(t, 5, g.NumStates())
	assert.Equal(t, []int{3}, g.Finals())
	assert.True(t, g.IsFinal(3))
	assert.Empty(t, g.Outgoing(3))

	a := g.Arcs()[0]
	assert.Equal(t, -3.0, a.Score)
	assert.Equal(t, []float64{-1, -1}, a.Components, "components are unweighted")

	best, ok := g.BestScore()
	require.True(t, ok)
	assert.Equal(t, -0.5-3-1, best)
}

func TestWordGraph_PruneAndTrim(t *testing.T) {
	g := diamond()
	assert.Zero(t, g.Prune(10))
	assert.Len(t, g.Arcs(), 5)

	assert.Equal(t, 1, g.Prune(1), "2 -> 3 trails 1 -> 3 by 2")
	assert.Len(t, g.Arcs(), 4)

	assert.Equal(t, 2, g.Trim(), "the dead end and the orphaned 0 -> 2 go")
	for _, a := range g.Arcs() {
		assert.NotEqual(t, 4, a.To)
		assert.NotEqual(t, 2, a.To)
	}
	best, ok := g.BestScore()
	require.True(t, ok)
	assert.Equal(t, -4.5, best)
}

func TestWordGraph_Serialize(t *testing.T) {
	g := diamond()
	var buf bytes.Buffer
	n, err := g.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6+5)
	assert.Equal(t, "# SOURCE SENTENCE: a b", lines[0])
	assert.Equal(t, "# COMPONENTS: wp lm", lines[1])
	assert.Equal(t, "5", lines[3])
	assert.Equal(t, "-0.5", lines[4])
	assert.Equal(t, "3", lines[5])
	assert.Equal(t, "0 1 -3 1 1 0 | -1 -1 | ||| x", lines[6])
	assert.Equal(t, "2 3 -1 1 1 1 | -1 0 | ||| z", lines[9])

	raw, err := json.Marshal(g)
	require.NoError(t, err)
	var decoded struct {
		ID     string        `json:"id"`
		States int           `json:"states"`
		Finals []int         `json:"finals"`
		Arcs   []lattice.Arc `json:"arcs"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, g.ID(), decoded.ID)
	assert.Equal(t, 5, decoded.States)
	assert.Equal(t, []int{3}, decoded.Finals)
	assert.Len(t, decoded.Arcs, 5)
}
