package hypothesis

import (
	"errors"
	"fmt"

	"github.com/viterin/vek"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/models"
)

// ErrNoPredecessor is returned when asking the null hypothesis for its predecessor.
var ErrNoPredecessor = errors.New("null hypothesis has no predecessor")

// Key decides recombination: hypotheses with equal keys score every
// future extension identically.
type Key struct {
	Coverage     string
	State        models.State
	LastCovered  int
	TargetLength int
}

// KeyFunc projects a hypothesis onto its recombination key.
type KeyFunc func(h *Hypothesis) Key

// StateKey recombines on coverage, language model state and last covered
// position. Complete hypotheses collapse to a single key since nothing
// remains to be scored.
func StateKey(h *Hypothesis) Key {
	if h.coverage.Full() {
		return Key{Coverage: h.coverage.Key()}
	}
	return Key{Coverage: h.coverage.Key(), State: h.state, LastCovered: h.LastCovered()}
}

// CoverageKey ignores the language model state. Recombination under this
// key is lossy and only meant for aggressive pruning.
func CoverageKey(h *Hypothesis) Key {
	if h.coverage.Full() {
		return Key{Coverage: h.coverage.Key()}
	}
	return Key{Coverage: h.coverage.Key(), LastCovered: h.LastCovered()}
}

// ForcedKey extends StateKey with the number of produced words. It is
// needed when the remaining candidates depend on how much of a forced
// target text has been produced.
func ForcedKey(h *Hypothesis) Key {
	if h.coverage.Full() {
		return Key{Coverage: h.coverage.Key()}
	}
	k := StateKey(h)
	k.TargetLength = len(h.target) - 1
	return k
}

// Hypothesis is an immutable partial translation. Derived fields are
// computed once at construction.
type Hypothesis struct {
	parent       *Hypothesis
	coverage     Coverage
	target       models.Phrase
	segmentation []Span
	cuts         []int
	components   []float64
	score        float64
	state        models.State
	keyFn        KeyFunc
	key          Key
	heuristic    float64
}

// Null returns the hypothesis with nothing translated, carrying only the
// initial penalties in components.
func Null(srcLen int, state models.State, components []float64, keyFn KeyFunc) *Hypothesis {
	if keyFn == nil {
		keyFn = StateKey
	}
	h := &Hypothesis{
		coverage:   NewCoverage(srcLen),
		target:     models.Phrase{models.NullWord},
		components: append([]float64(nil), components...),
		state:      state,
		keyFn:      keyFn,
	}
	h.finish()
	return h
}

func (h *Hypothesis) finish() {
	h.score = 0
	if len(h.components) > 0 {
		h.score = vek.Sum(h.components)
	}
	h.key = h.keyFn(h)
}

// Extend returns the child covering span with phrase appended. The
// receiver is left untouched.
func (h *Hypothesis) Extend(span Span, phrase models.Phrase, state models.State, delta []float64) (*Hypothesis, error) {
	if !h.coverage.Valid(span) {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s outside sentence of length %d", span, h.coverage.Len()), coreerrors.ErrInvalidSpan)
	}
	if h.coverage.Overlaps(span) {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s overlaps coverage %s", span, h.coverage), coreerrors.ErrInvalidSpan)
	}
	if len(phrase) == 0 {
		return nil, coreerrors.Configurationf("empty target phrase for span %s", span)
	}
	if len(delta) != len(h.components) {
		return nil, coreerrors.Configurationf("score delta has %d components, want %d", len(delta), len(h.components))
	}

	target := make(models.Phrase, len(h.target), len(h.target)+len(phrase))
	copy(target, h.target)
	target = append(target, phrase...)

	segmentation := make([]Span, len(h.segmentation), len(h.segmentation)+1)
	copy(segmentation, h.segmentation)
	segmentation = append(segmentation, span)

	cuts := make([]int, len(h.cuts), len(h.cuts)+1)
	copy(cuts, h.cuts)
	cuts = append(cuts, len(target)-1)

	var components []float64
	if len(delta) > 0 {
		components = vek.Add(h.components, delta)
	}

	child := &Hypothesis{
		parent:       h,
		coverage:     h.coverage.With(span),
		target:       target,
		segmentation: segmentation,
		cuts:         cuts,
		components:   components,
		state:        state,
		keyFn:        h.keyFn,
	}
	child.finish()
	return child, nil
}

// Predecessor returns the hypothesis this one was extended from.
func (h *Hypothesis) Predecessor() (*Hypothesis, error) {
	if h.parent == nil {
		return nil, ErrNoPredecessor
	}
	return h.parent, nil
}

// IsNull reports whether nothing has been translated.
func (h *Hypothesis) IsNull() bool { return len(h.segmentation) == 0 }

// IsComplete reports whether every source position is covered.
func (h *Hypothesis) IsComplete() bool { return h.coverage.Full() }

func (h *Hypothesis) Coverage() Coverage { return h.coverage }

// Target returns the target ids including the sentence-start slot.
func (h *Hypothesis) Target() models.Phrase { return h.target }

// Words returns the produced target ids.
func (h *Hypothesis) Words() models.Phrase { return h.target[1:] }

// Segmentation returns the covered spans in expansion order.
func (h *Hypothesis) Segmentation() []Span { return h.segmentation }

// Cuts returns, per phrase, the index of its last word in Target.
func (h *Hypothesis) Cuts() []int { return h.cuts }

// Components returns the per-feature weighted scores.
func (h *Hypothesis) Components() []float64 { return h.components }

// Score is the sum of the components.
func (h *Hypothesis) Score() float64 { return h.score }

func (h *Hypothesis) State() models.State { return h.state }

func (h *Hypothesis) Key() Key { return h.key }

// Heuristic returns the transient future score estimate.
func (h *Hypothesis) Heuristic() float64 { return h.heuristic }

// RankScore is the score used to order hypotheses during search.
func (h *Hypothesis) RankScore() float64 { return h.score + h.heuristic }

// WithHeuristic returns a copy carrying the given future score estimate.
// The estimate never enters Score.
func (h *Hypothesis) WithHeuristic(estimate float64) *Hypothesis {
	c := *h
	c.heuristic = estimate
	return &c
}

// LastCovered returns the right end of the last covered span, 0 for the null hypothesis.
func (h *Hypothesis) LastCovered() int {
	if len(h.segmentation) == 0 {
		return 0
	}
	return h.segmentation[len(h.segmentation)-1].Right
}

// LastSpan returns the most recently covered span.
func (h *Hypothesis) LastSpan() (Span, bool) {
	if len(h.segmentation) == 0 {
		return Span{}, false
	}
	return h.segmentation[len(h.segmentation)-1], true
}

// LastPhrase returns the target words of the most recent expansion.
func (h *Hypothesis) LastPhrase() models.Phrase {
	n := len(h.cuts)
	if n == 0 {
		return nil
	}
	start := 1
	if n > 1 {
		start = h.cuts[n-2] + 1
	}
	return h.target[start : h.cuts[n-1]+1]
}

// Gaps returns the uncovered runs of the source sentence.
func (h *Hypothesis) Gaps() []Span { return h.coverage.Gaps() }

// AlignedPhrase pairs a source span with the 1-based target positions it produced.
type AlignedPhrase struct {
	Source      Span `json:"source"`
	TargetStart int  `json:"target_start"`
	TargetEnd   int  `json:"target_end"`
}

// PhraseAlignment reconstructs the phrase alignment in target order.
func (h *Hypothesis) PhraseAlignment() []AlignedPhrase {
	out := make([]AlignedPhrase, len(h.segmentation))
	start := 1
	for i, s := range h.segmentation {
		out[i] = AlignedPhrase{Source: s, TargetStart: start, TargetEnd: h.cuts[i]}
		start = h.cuts[i] + 1
	}
	return out
}

// AlignedSource returns the source span that produced target position pos (1-based).
func (h *Hypothesis) AlignedSource(pos int) (Span, bool) {
	for _, a := range h.PhraseAlignment() {
		if pos >= a.TargetStart && pos <= a.TargetEnd {
			return a.Source, true
		}
	}
	return Span{}, false
}

// Validate checks the structural invariants of the hypothesis.
func (h *Hypothesis) Validate() error {
	if len(h.target) == 0 || h.target[0] != models.NullWord {
		return fmt.Errorf("target does not start with the null word")
	}
	if len(h.segmentation) != len(h.cuts) {
		return fmt.Errorf("%d spans but %d cuts", len(h.segmentation), len(h.cuts))
	}
	seen := NewCoverage(h.coverage.Len())
	for _, s := range h.segmentation {
		if !seen.Valid(s) || seen.Overlaps(s) {
			return fmt.Errorf("span %s overlaps or lies outside the sentence", s)
		}
		seen = seen.With(s)
	}
	if !seen.Equal(h.coverage) {
		return fmt.Errorf("segmentation covers %s, coverage is %s", seen, h.coverage)
	}
	prev := 0
	for _, c := range h.cuts {
		if c <= prev {
			return fmt.Errorf("cuts do not strictly increase")
		}
		prev = c
	}
	if len(h.cuts) > 0 && prev != len(h.target)-1 {
		return fmt.Errorf("last cut %d does not match translation length %d", prev, len(h.target)-1)
	}
	return nil
}
