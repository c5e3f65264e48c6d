// Package heuristic estimates the score still to be gained by a partial
// translation. Estimates only order the search; they never enter a
// hypothesis score.
package heuristic

import (
	"fmt"
	"math"
	"strings"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
)

// Kind selects the estimation policy.
type Kind int

const (
	// None estimates zero everywhere.
	None Kind = iota
	// LocalT sums the best translation estimate of every open gap.
	LocalT
	// LocalTD adds jump estimates towards the gaps next to the last covered position.
	LocalTD
)

var kindNames = map[Kind]string{
	None:    "none",
	LocalT:  "local_t",
	LocalTD: "local_td",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a policy name.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return None, coreerrors.Configurationf("unknown heuristic %q", name)
}

// Estimator supplies the per-sentence estimates the table is built from.
type Estimator interface {
	SourceLength() int
	MaxPhraseLength() int

	// TranslationEstimate is the best context-free score of translating
	// span as one phrase, -Inf when it has no candidate.
	TranslationEstimate(span hypothesis.Span) float64

	// JumpEstimate is the weighted distortion score of a jump.
	JumpEstimate(offset int) float64

	// TargetEstimate is the score of the forced target text h has not produced yet.
	TargetEstimate(h *hypothesis.Hypothesis) float64
}

// Policy estimates the future score of a hypothesis.
type Policy interface {
	Estimate(h *hypothesis.Hypothesis) float64
}

// Apply returns h carrying the policy's estimate. A nil policy estimates zero.
func Apply(p Policy, h *hypothesis.Hypothesis) *hypothesis.Hypothesis {
	if p == nil {
		return h
	}
	return h.WithHeuristic(p.Estimate(h))
}

// Table is the precomputed estimate of every source span, indexed by its
// rightmost position and its length.
type Table struct {
	kind   Kind
	est    Estimator
	n      int
	scores [][]float64
}

// New builds the estimate table of the current sentence.
func New(kind Kind, est Estimator) (*Table, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, coreerrors.Configurationf("unknown heuristic kind %d", int(kind))
	}
	t := &Table{kind: kind, est: est, n: est.SourceLength()}
	if kind == None {
		return t, nil
	}

	maxLen := est.MaxPhraseLength()
	t.scores = make([][]float64, t.n)
	for r := range t.scores {
		t.scores[r] = make([]float64, r+1)
	}
	for length := 1; length <= t.n; length++ {
		for right := length; right <= t.n; right++ {
			left := right - length + 1
			best := math.Inf(-1)
			if length <= maxLen {
				best = est.TranslationEstimate(hypothesis.Span{Left: left, Right: right})
			}
			for split := left; split < right; split++ {
				if s := t.span(left, split) + t.span(split+1, right); s > best {
					best = s
				}
			}
			t.scores[right-1][length-1] = best
		}
	}
	return t, nil
}

// Kind returns the policy of the table.
func (t *Table) Kind() Kind { return t.kind }

// Span returns the estimate of translating [left, right] in any number of phrases.
func (t *Table) Span(s hypothesis.Span) float64 {
	if t.scores == nil || s.Left < 1 || s.Right > t.n || s.Left > s.Right {
		return 0
	}
	return t.span(s.Left, s.Right)
}

func (t *Table) span(left, right int) float64 {
	return t.scores[right-1][right-left]
}

// Estimate implements Policy.
func (t *Table) Estimate(h *hypothesis.Hypothesis) float64 {
	if t.kind == None {
		return 0
	}
	gaps := h.Gaps()
	result := t.est.TargetEstimate(h)
	for _, g := range gaps {
		result += t.span(g.Left, g.Right)
	}
	if t.kind == LocalTD {
		result += t.jumps(h.LastCovered(), gaps)
	}
	return result
}

// jumps estimates the cost of moving from the last covered position to the
// nearest open gap on each side of it.
func (t *Table) jumps(last int, gaps []hypothesis.Span) float64 {
	var left, right *hypothesis.Span
	for i := range gaps {
		g := &gaps[i]
		if g.Right < last && (left == nil || g.Right > left.Right) {
			left = g
		}
		if g.Left > last && (right == nil || g.Left < right.Left) {
			right = g
		}
	}
	result := 0.0
	if left != nil {
		result += t.est.JumpEstimate(abs(left.Left - (last + 1)))
	}
	if right != nil {
		result += t.est.JumpEstimate(abs(right.Left - (last + 1)))
	}
	return result
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
