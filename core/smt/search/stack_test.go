package search_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/phrasedec/core/smt/search"
)

type item struct {
	key   string
	score float64
}

func (i item) RankScore() float64 { return i.score }
func (i item) Key() string         { return i.key }

func keys(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}

func TestStack_CapacityLaw(t *testing.T) {
	s := search.NewStack[string, item](3, true)
	for i, score := range []float64{-5, -1, -3, -4, -2, -6} {
		s.Push(item{key: string(rune('a' + i)), score: score})
		assert.LessOrEqual(t, s.Len(), 3)
	}
	assert.Equal(t, []string{"b", "e", "c"}, keys(s.Items()))
	assert.Equal(t, 3, s.Evicted())
	assert.Equal(t, 3, s.Capacity())
}

func TestStack_Dedupe(t *testing.T) {
	s := search.NewStack[string, item](3, true)
	require.True(t, s.Push(item{key: "a", score: -2}))
	require.True(t, s.Push(item{key: "b", score: -3}))

	assert.False(t, s.Push(item{key: "a", score: -2}), "ties keep the first")
	assert.False(t, s.Push(item{key: "a", score: -9}))
	assert.True(t, s.Push(item{key: "b", score: -1}))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"b", "a"}, keys(s.Items()))

	loose := search.NewStack[string, item](3, false)
	loose.Push(item{key: "a", score: -2})
	loose.Push(item{key: "a", score: -1})
	assert.Equal(t, 2, loose.Len())
}

func TestStack_PopPeekPrune(t *testing.T) {
	s := search.NewStack[string, item](10, true)
	_, ok := s.Pop()
	assert.False(t, ok)

	for i, score := range []float64{-1, -2, -2, -3} {
		s.Push(item{key: string(rune('a' + i)), score: score})
	}
	top, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", top.key)

	assert.Equal(t, 3, s.PruneBelow(-1.5))
	assert.Equal(t, 1, s.Len())

	got, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", got.key)
	assert.Zero(t, s.Len())

	s.Push(item{key: "x", score: 0})
	s.Push(item{key: "y", score: 0})
	assert.Equal(t, []string{"x", "y"}, keys(s.Items()), "equal ranks keep insertion order")
	s.Clear()
	assert.Zero(t, s.Len())
}
