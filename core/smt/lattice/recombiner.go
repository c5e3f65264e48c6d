// Package lattice merges equivalent hypotheses and records the search
// space as a word graph.
package lattice

import (
	"bufio"
	"fmt"
	"io"

	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
)

// InitialState is the state index of the null hypothesis.
const InitialState = 0

// StateInfo describes one recombined state.
type StateInfo struct {
	Index    int     `json:"index"`
	Coverage string  `json:"coverage"`
	Score    float64 `json:"score"`
}

// Recombiner maps equivalence keys to word graph states and remembers the
// best score reaching each of them.
type Recombiner struct {
	index  map[hypothesis.Key]int
	states []StateInfo
	merged int
}

// NewRecombiner creates an empty recombiner.
func NewRecombiner() *Recombiner {
	return &Recombiner{index: make(map[hypothesis.Key]int)}
}

// Observe returns the state index of h, creating it for a new key, and
// reports whether h must be kept: its key is new or it beats the best
// score recorded for it.
func (r *Recombiner) Observe(h *hypothesis.Hypothesis) (int, bool) {
	k := h.Key()
	idx, ok := r.index[k]
	if !ok {
		idx = len(r.states)
		r.index[k] = idx
		r.states = append(r.states, StateInfo{
			Index:    idx,
			Coverage: h.Coverage().String(),
			Score:    h.Score(),
		})
		return idx, true
	}
	r.merged++
	if h.Score() > r.states[idx].Score {
		r.states[idx].Score = h.Score()
		return idx, true
	}
	return idx, false
}

// Index returns the state index of a key.
func (r *Recombiner) Index(k hypothesis.Key) (int, bool) {
	idx, ok := r.index[k]
	return idx, ok
}

// Best returns the best score recorded for a key.
func (r *Recombiner) Best(k hypothesis.Key) (float64, bool) {
	idx, ok := r.index[k]
	if !ok {
		return 0, false
	}
	return r.states[idx].Score, true
}

// Len returns the number of states.
func (r *Recombiner) Len() int { return len(r.states) }

// Merged returns how many hypotheses hit an existing key.
func (r *Recombiner) Merged() int { return r.merged }

// States returns the states in index order.
func (r *Recombiner) States() []StateInfo {
	return append([]StateInfo(nil), r.states...)
}

// Reset forgets every state.
func (r *Recombiner) Reset() {
	r.index = make(map[hypothesis.Key]int)
	r.states = nil
	r.merged = 0
}

// WriteStateIndex lists every state with its coverage and best score.
func (r *Recombiner) WriteStateIndex(w io.Writer, source string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# SOURCE SENTENCE: %s\n#\n", source)
	for _, s := range r.states {
		fmt.Fprintf(bw, "%d %s %g\n", s.Index, s.Coverage, s.Score)
	}
	return bw.Flush()
}
