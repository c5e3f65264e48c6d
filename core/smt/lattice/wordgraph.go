package lattice

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
)

// Arc is one expansion between two states.
type Arc struct {
	From    int             `json:"from"`
	To      int             `json:"to"`
	Words   []string        `json:"words"`
	Source  hypothesis.Span `json:"source"`
	Unknown bool            `json:"unknown"`
	Score   float64         `json:"score"`
	// Components holds the unweighted score components of the arc.
	Components []float64 `json:"components,omitempty"`
}

// WordGraph is the search graph of one decode. State 0 is initial; arcs
// always point to states of larger coverage, so the graph is acyclic.
type WordGraph struct {
	id           string
	source       []string
	names        []string
	weights      []float64
	initialScore float64
	numStates    int
	finals       map[int]struct{}
	arcs         []Arc
}

// NewWordGraph creates an empty graph for a source sentence. names and
// weights describe the score components carried by arcs.
func NewWordGraph(source []string, names []string, weights []float64) *WordGraph {
	return &WordGraph{
		id:        uuid.NewString(),
		source:    append([]string(nil), source...),
		names:     append([]string(nil), names...),
		weights:   append([]float64(nil), weights...),
		numStates: 1,
		finals:    make(map[int]struct{}),
	}
}

// ID identifies the graph in logs and file names.
func (g *WordGraph) ID() string { return g.id }

// SetInitialScore records the score of the null hypothesis.
func (g *WordGraph) SetInitialScore(score float64) { g.initialScore = score }

// InitialScore returns the score of the initial state.
func (g *WordGraph) InitialScore() float64 { return g.initialScore }

// AddFinal marks a state as final.
func (g *WordGraph) AddFinal(state int) {
	g.grow(state)
	g.finals[state] = struct{}{}
}

// AddArc adds an arc. weighted holds the weighted score components of the
// expansion; the arc keeps them divided by their weights, zero where the
// weight is zero.
func (g *WordGraph) AddArc(from, to int, words []string, source hypothesis.Span, unknown bool, weighted []float64) {
	g.grow(from)
	g.grow(to)
	arc := Arc{
		From:    from,
		To:      to,
		Words:   append([]string(nil), words...),
		Source:  source,
		Unknown: unknown,
	}
	if len(weighted) > 0 {
		arc.Components = make([]float64, len(weighted))
	}
	for i, c := range weighted {
		arc.Score += c
		if i < len(g.weights) && g.weights[i] != 0 {
			arc.Components[i] = c / g.weights[i]
		}
	}
	g.arcs = append(g.arcs, arc)
}

func (g *WordGraph) grow(state int) {
	if state >= g.numStates {
		g.numStates = state + 1
	}
}

// NumStates returns the number of state indices in use.
func (g *WordGraph) NumStates() int { return g.numStates }

// Arcs returns the arcs in insertion order.
func (g *WordGraph) Arcs() []Arc { return g.arcs }

// Finals returns the final states in increasing order.
func (g *WordGraph) Finals() []int {
	out := make([]int, 0, len(g.finals))
	for s := range g.finals {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// IsFinal reports whether state is final.
func (g *WordGraph) IsFinal(state int) bool {
	_, ok := g.finals[state]
	return ok
}

// Outgoing returns the arcs leaving state.
func (g *WordGraph) Outgoing(state int) []Arc {
	var out []Arc
	for _, a := range g.arcs {
		if a.From == state {
			out = append(out, a)
		}
	}
	return out
}

// order returns the states reachable from the initial state in topological order.
func (g *WordGraph) order() []int {
	indeg := make([]int, g.numStates)
	out := make([][]int, g.numStates)
	for i, a := range g.arcs {
		indeg[a.To]++
		out[a.From] = append(out[a.From], i)
	}
	var order []int
	queue := []int{}
	for s := 0; s < g.numStates; s++ {
		if indeg[s] == 0 {
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		order = append(order, s)
		for _, i := range out[s] {
			to := g.arcs[i].To
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	return order
}

// forward returns the best path score from the initial state to every
// state, and whether the state is reachable.
func (g *WordGraph) forward() ([]float64, []bool) {
	best := make([]float64, g.numStates)
	seen := make([]bool, g.numStates)
	seen[InitialState] = true
	best[InitialState] = g.initialScore

	byFrom := make([][]int, g.numStates)
	for i, a := range g.arcs {
		byFrom[a.From] = append(byFrom[a.From], i)
	}
	for _, s := range g.order() {
		if !seen[s] {
			continue
		}
		for _, i := range byFrom[s] {
			a := g.arcs[i]
			score := best[s] + a.Score
			if !seen[a.To] || score > best[a.To] {
				best[a.To] = score
				seen[a.To] = true
			}
		}
	}
	return best, seen
}

// BestScore returns the score of the best path ending in a final state.
func (g *WordGraph) BestScore() (float64, bool) {
	best, seen := g.forward()
	found := false
	var score float64
	for s := range g.finals {
		if seen[s] && (!found || best[s] > score) {
			score = best[s]
			found = true
		}
	}
	return score, found
}

// Prune drops arcs whose best path score through them is more than margin
// below the best path reaching their destination. It returns the number of
// arcs dropped.
func (g *WordGraph) Prune(margin float64) int {
	best, seen := g.forward()
	kept := g.arcs[:0]
	pruned := 0
	for _, a := range g.arcs {
		if seen[a.From] && best[a.From]+a.Score < best[a.To]-margin {
			pruned++
			continue
		}
		kept = append(kept, a)
	}
	g.arcs = kept
	return pruned
}

// Trim drops arcs that are not on a path from the initial state to a final
// state. It returns the number of arcs dropped.
func (g *WordGraph) Trim() int {
	useful := g.useful()
	kept := g.arcs[:0]
	trimmed := 0
	for _, a := range g.arcs {
		if useful[a.From] && useful[a.To] {
			kept = append(kept, a)
			continue
		}
		trimmed++
	}
	g.arcs = kept
	return trimmed
}

// useful marks the states that are both reachable and co-reachable.
func (g *WordGraph) useful() []bool {
	_, reach := g.forward()
	co := make([]bool, g.numStates)
	for s := range g.finals {
		co[s] = true
	}
	order := g.order()
	for i := len(order) - 1; i >= 0; i-- {
		s := order[i]
		for _, a := range g.arcs {
			if a.From == s && co[a.To] {
				co[s] = true
				break
			}
		}
	}
	useful := make([]bool, g.numStates)
	for s := range useful {
		useful[s] = reach[s] && co[s]
	}
	return useful
}

// WriteTo writes the graph in plain text: a header, the initial score, the
// final states, and one line per arc.
func (g *WordGraph) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	fmt.Fprintf(bw, "# SOURCE SENTENCE: %s\n", strings.Join(g.source, " "))
	fmt.Fprintf(bw, "# COMPONENTS: %s\n", strings.Join(g.names, " "))
	fmt.Fprintf(bw, "# WEIGHTS: %s\n", joinFloats(g.weights))
	fmt.Fprintf(bw, "%d\n", g.numStates)
	fmt.Fprintf(bw, "%g\n", g.initialScore)
	finals := make([]string, 0, len(g.finals))
	for _, s := range g.Finals() {
		finals = append(finals, fmt.Sprint(s))
	}
	fmt.Fprintf(bw, "%s\n", strings.Join(finals, " "))
	for _, a := range g.arcs {
		unknown := 0
		if a.Unknown {
			unknown = 1
		}
		fmt.Fprintf(bw, "%d %d %g %d %d %d", a.From, a.To, a.Score, a.Source.Left, a.Source.Right, unknown)
		if len(a.Components) > 0 {
			fmt.Fprintf(bw, " | %s |", joinFloats(a.Components))
		}
		fmt.Fprintf(bw, " ||| %s\n", strings.Join(a.Words, " "))
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("write word graph: %w", err)
	}
	return cw.n, nil
}

type graphJSON struct {
	ID           string    `json:"id"`
	Source       []string  `json:"source"`
	Components   []string  `json:"components"`
	Weights      []float64 `json:"weights"`
	States       int       `json:"states"`
	InitialScore float64   `json:"initial_score"`
	Finals       []int     `json:"finals"`
	Arcs         []Arc     `json:"arcs"`
}

// MarshalJSON implements json.Marshaler.
func (g *WordGraph) MarshalJSON() ([]byte, error) {
	arcs := g.arcs
	if arcs == nil {
		arcs = []Arc{}
	}
	return json.Marshal(graphJSON{
		ID:           g.id,
		Source:       g.source,
		Components:   g.names,
		Weights:      g.weights,
		States:       g.numStates,
		InitialScore: g.initialScore,
		Finals:       g.Finals(),
		Arcs:         arcs,
	})
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%g", x)
	}
	return strings.Join(parts, " ")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
