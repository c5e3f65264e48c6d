// Package expansion enumerates the legal extensions of a hypothesis and
// scores them incrementally.
package expansion

import (
	"fmt"
	"log/slog"

	"github.com/viterin/vek"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/scorecache"
)

// Mode selects how translation candidates are produced and filtered.
type Mode int

const (
	// ModeTranslate searches freely.
	ModeTranslate Mode = iota
	// ModeReference only produces the given reference.
	ModeReference
	// ModePrefix produces translations starting with the given prefix.
	ModePrefix
	// ModeVerify uses the regular candidates and keeps those consistent
	// with the reference.
	ModeVerify
)

var modeNames = map[Mode]string{
	ModeTranslate: "translate",
	ModeReference: "reference",
	ModePrefix:    "prefix",
	ModeVerify:    "verify",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

// Config holds the search limits and scoring constants used during expansion.
type Config struct {
	// MaxOptions keeps the best W candidates per span when >= 1, or the
	// candidates within log(W) of the best when below 1.
	MaxOptions float64
	// MaxPhraseLength bounds the source span length.
	MaxPhraseLength int
	// MaxLengthDiff bounds |target| - |source| for reference and prefix candidates.
	MaxLengthDiff int
	// MaxJump bounds the distance between consecutive spans. Zero means monotone.
	MaxJump int
	// LexLambdaPTS and LexLambdaPST weigh the phrase table against the
	// lexicon. A value of 1 disables interpolation.
	LexLambdaPTS float64
	LexLambdaPST float64
	// UnknownWordPenalty is the log-probability per direction and table
	// given to the unseen-word fallback.
	UnknownWordPenalty float64
}

// DefaultConfig returns the usual search limits.
func DefaultConfig() Config {
	return Config{
		MaxOptions:         10,
		MaxPhraseLength:    10,
		MaxLengthDiff:      10,
		MaxJump:            0,
		LexLambdaPTS:       1,
		LexLambdaPST:       1,
		UnknownWordPenalty: models.LogPhraseProbSmooth,
	}
}

func (c Config) validate() error {
	if c.MaxOptions <= 0 {
		return coreerrors.Configurationf("max options must be positive, got %v", c.MaxOptions)
	}
	if c.MaxPhraseLength < 1 {
		return coreerrors.Configurationf("max phrase length must be at least 1, got %d", c.MaxPhraseLength)
	}
	if c.MaxJump < 0 || c.MaxLengthDiff < 0 {
		return coreerrors.Configurationf("max jump and max length diff must not be negative")
	}
	if c.LexLambdaPTS <= 0 || c.LexLambdaPTS > 1 || c.LexLambdaPST <= 0 || c.LexLambdaPST > 1 {
		return coreerrors.Configurationf("lexical lambdas must lie in (0,1]")
	}
	return nil
}

// Sentence is the input of one decode.
type Sentence struct {
	Tokens []string
	Mode   Mode
	// Target is the reference or the prefix, depending on Mode.
	Target []string
	// PartialLastWord marks the last prefix token as possibly incomplete.
	PartialLastWord bool
}

// Step describes one expansion.
type Step struct {
	Parent  *hypothesis.Hypothesis
	Child   *hypothesis.Hypothesis
	Span    hypothesis.Span
	Phrase  models.Phrase
	Delta   []float64
	Unknown bool
}

// Observer is called for every child the engine produces.
type Observer func(Step)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver installs a per-expansion callback.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithKeyFunc selects the recombination key of the hypotheses built by the engine.
func WithKeyFunc(fn hypothesis.KeyFunc) Option {
	return func(e *Engine) { e.keyFn = fn }
}

// Engine expands hypotheses of one sentence. It is not safe for
// concurrent use.
type Engine struct {
	cfg      Config
	features Features
	weights  Weights
	cache    *scorecache.Cache

	vocab         models.VocabularyBridge
	reordering    models.ReorderingModel
	segmentLength models.SegmentLengthModel
	wordPenalty   models.WordPenaltyModel

	sentence Sentence
	src      models.Phrase
	unseen   []bool
	target   models.Phrase
	// targetLM[i] is the language model score of target[:i] read from the
	// sentence start.
	targetLM []float64

	keyFn    hypothesis.KeyFunc
	observer Observer
	logger   *slog.Logger
}

// New prepares an engine for one sentence.
func New(set *models.Set, cache *scorecache.Cache, cfg Config, weights Weights, sent Sentence, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(sent.Tokens) == 0 {
		return nil, coreerrors.ErrEmptySentence
	}
	features := Features{Tables: set.PhraseTable.NumTables()}
	if len(weights) != features.Len() {
		return nil, coreerrors.Configurationf("got %d weights for %d features", len(weights), features.Len())
	}
	if sent.Mode != ModeTranslate && len(sent.Target) == 0 && sent.Mode != ModePrefix {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("%s mode without a target", sent.Mode), coreerrors.ErrInactiveMode)
	}

	e := &Engine{
		cfg:           cfg,
		features:      features,
		weights:       weights,
		cache:         cache,
		vocab:         set.Vocabulary,
		reordering:    set.Reordering,
		segmentLength: set.SegmentLength,
		wordPenalty:   set.WordPenalty,
		sentence:      sent,
		keyFn:         hypothesis.StateKey,
		logger:        slog.Default(),
	}
	if sent.Mode != ModeTranslate {
		e.keyFn = hypothesis.ForcedKey
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.LexLambdaPTS < 1 || cfg.LexLambdaPST < 1 {
		if !cache.HasLexicon() {
			return nil, coreerrors.Configurationf("lexical interpolation requires a lexicon")
		}
	}

	e.src = models.SourcePhrase(e.vocab, sent.Tokens)
	e.target = models.TargetPhrase(e.vocab, sent.Target)
	for i, w := range e.target {
		partial := sent.PartialLastWord && i == len(e.target)-1
		if w == models.UnknownWord && !partial {
			e.logger.Warn("target word missing from the vocabulary",
				slog.Int("position", i+1),
				slog.String("word", sent.Target[i]))
		}
	}
	e.targetLM = make([]float64, len(e.target)+1)
	state := cache.BeginState()
	for i, w := range e.target {
		var lp float64
		lp, state = cache.NgramScore(state, w)
		e.targetLM[i+1] = e.targetLM[i] + lp
	}
	e.unseen = make([]bool, len(e.src)+1)
	for j := 1; j <= len(e.src); j++ {
		if _, ok := cache.Translations(e.src[j-1 : j]); !ok {
			e.unseen[j] = true
			e.logger.Warn("unseen source word",
				slog.Int("position", j),
				slog.String("word", sent.Tokens[j-1]))
		}
	}
	return e, nil
}

// Features returns the score vector layout.
func (e *Engine) Features() Features { return e.features }

// Weights returns the log-linear weights.
func (e *Engine) Weights() Weights { return e.weights }

// Mode returns the decoding mode of the sentence.
func (e *Engine) Mode() Mode { return e.sentence.Mode }

// SourceLength returns the number of source words.
func (e *Engine) SourceLength() int { return len(e.src) }

// MaxPhraseLength returns the source span length bound.
func (e *Engine) MaxPhraseLength() int { return e.cfg.MaxPhraseLength }

// Sentence returns the decode input.
func (e *Engine) Sentence() Sentence { return e.sentence }

// Unseen reports whether source position j has no entry in the phrase table.
func (e *Engine) Unseen(j int) bool {
	return j >= 1 && j < len(e.unseen) && e.unseen[j]
}

// Null returns the initial hypothesis of the sentence.
func (e *Engine) Null() *hypothesis.Hypothesis {
	components := make([]float64, e.features.Len())
	components[FeatureWordPenalty] = e.weights[FeatureWordPenalty] * e.wordPenalty.SumLogProb(0)
	return hypothesis.Null(len(e.src), e.cache.BeginState(), components, e.keyFn)
}

// Spans returns the spans h may cover next. A span must lie inside a gap,
// start within MaxJump of the position after the last covered one, and
// leave the leftmost uncovered position within MaxJump of its end so that
// the sentence can always be finished.
func (e *Engine) Spans(h *hypothesis.Hypothesis) []hypothesis.Span {
	cov := h.Coverage()
	next := h.LastCovered() + 1
	var spans []hypothesis.Span
	for _, g := range cov.Gaps() {
		for l := g.Left; l <= g.Right; l++ {
			if abs(l-next) > e.cfg.MaxJump {
				continue
			}
			for r := l; r <= g.Right && r-l+1 <= e.cfg.MaxPhraseLength; r++ {
				span := hypothesis.Span{Left: l, Right: r}
				if e.reachable(cov, span) {
					spans = append(spans, span)
				}
			}
		}
	}
	return spans
}

func (e *Engine) reachable(cov hypothesis.Coverage, span hypothesis.Span) bool {
	first := cov.FirstUncovered()
	if first == span.Left {
		first = 0
		for j := span.Right + 1; j <= cov.Len(); j++ {
			if !cov.Covered(j) {
				first = j
				break
			}
		}
	}
	return first == 0 || abs(first-(span.Right+1)) <= e.cfg.MaxJump
}

// Expand returns every legal child of h.
func (e *Engine) Expand(h *hypothesis.Hypothesis) []*hypothesis.Hypothesis {
	var children []*hypothesis.Hypothesis
	for _, span := range e.Spans(h) {
		kids, err := e.ExpandSpan(h, span)
		if err != nil {
			// Spans only yields valid spans.
			e.logger.Error("expand span", slog.String("span", span.String()), slog.String("error", err.Error()))
			continue
		}
		children = append(children, kids...)
	}
	return children
}

// ExpandSpan returns the children of h covering span. An empty result is
// not an error; an invalid span is.
func (e *Engine) ExpandSpan(h *hypothesis.Hypothesis, span hypothesis.Span) ([]*hypothesis.Hypothesis, error) {
	cov := h.Coverage()
	if !cov.Valid(span) || cov.Overlaps(span) {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s not inside a gap of %s", span, cov), coreerrors.ErrInvalidSpan)
	}

	opts := e.options(h, span)
	children := make([]*hypothesis.Hypothesis, 0, len(opts))
	for _, opt := range opts {
		delta, state := e.delta(h, span, opt.Phrase)
		child, err := h.Extend(span, opt.Phrase, state, delta)
		if err != nil {
			return nil, err
		}
		if !e.admissible(child) {
			continue
		}
		if e.observer != nil {
			e.observer(Step{
				Parent:  h,
				Child:   child,
				Span:    span,
				Phrase:  opt.Phrase,
				Delta:   delta,
				Unknown: e.isFallback(span, opt.Phrase),
			})
		}
		children = append(children, child)
	}
	return children, nil
}

// admissible applies the hard constraints of the reference and prefix modes.
func (e *Engine) admissible(child *hypothesis.Hypothesis) bool {
	words := child.Words()
	switch e.sentence.Mode {
	case ModeReference, ModeVerify:
		if !e.target.HasPrefix(words) {
			return false
		}
		return !child.IsComplete() || len(words) == len(e.target)
	case ModePrefix:
		return e.prefixCompatible(words)
	default:
		return true
	}
}

// prefixCompatible reports whether words is a prefix of the prefix or
// continues it.
func (e *Engine) prefixCompatible(words models.Phrase) bool {
	if len(words) < len(e.target) {
		return e.target.HasPrefix(words)
	}
	return e.extendsPrefix(e.target, words)
}

// Steps breaks h down into the expansions that built it, oldest first.
func (e *Engine) Steps(h *hypothesis.Hypothesis) []Step {
	var steps []Step
	cur := h
	for {
		parent, err := cur.Predecessor()
		if err != nil {
			break
		}
		span, _ := cur.LastSpan()
		phrase := cur.LastPhrase()
		steps = append(steps, Step{
			Parent:  parent,
			Child:   cur,
			Span:    span,
			Phrase:  phrase,
			Delta:   vek.Sub(cur.Components(), parent.Components()),
			Unknown: e.isFallback(span, phrase),
		})
		cur = parent
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

// Rescore rebuilds h from the null hypothesis by replaying its segmentation.
func (e *Engine) Rescore(h *hypothesis.Hypothesis) (*hypothesis.Hypothesis, error) {
	cur := e.Null()
	if h.Coverage().Len() != cur.Coverage().Len() {
		return nil, coreerrors.Configurationf("hypothesis over %d words rescored for a sentence of %d",
			h.Coverage().Len(), cur.Coverage().Len())
	}
	target := h.Target()
	start := 1
	for i, span := range h.Segmentation() {
		end := h.Cuts()[i]
		phrase := target[start : end+1]
		delta, state := e.delta(cur, span, phrase)
		next, err := cur.Extend(span, phrase, state, delta)
		if err != nil {
			return nil, err
		}
		cur = next
		start = end + 1
	}
	return cur, nil
}

// Render converts the words of h to text, spelling unknown words with the
// token they stand for.
func (e *Engine) Render(h *hypothesis.Hypothesis) ([]string, []int) {
	words := h.Words()
	out := make([]string, len(words))
	var unknown []int
	for i, w := range words {
		pos := i + 1
		if w != models.UnknownWord {
			out[i] = e.vocab.TargetWord(w)
			continue
		}
		unknown = append(unknown, pos)
		switch {
		case e.sentence.Mode != ModeTranslate && i < len(e.sentence.Target):
			out[i] = e.sentence.Target[i]
		default:
			if span, ok := h.AlignedSource(pos); ok && span.Len() == 1 {
				out[i] = e.sentence.Tokens[span.Left-1]
			} else {
				out[i] = models.UnknownWordStr
			}
		}
	}
	return out, unknown
}

func (e *Engine) isFallback(span hypothesis.Span, phrase models.Phrase) bool {
	return span.Len() == 1 && e.Unseen(span.Left) && len(phrase) == 1 && phrase[0] == models.UnknownWord
}

func (e *Engine) sourcePhrase(span hypothesis.Span) models.Phrase {
	return e.src[span.Left-1 : span.Right]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
