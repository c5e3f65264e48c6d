package expansion

import (
	"fmt"
	"math"
	"sort"
	"strings"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/scorecache"
)

// Options returns the scored translation candidates of span, as used to
// expand h in the current mode.
func (e *Engine) Options(h *hypothesis.Hypothesis, span hypothesis.Span) ([]scorecache.Option, error) {
	cov := h.Coverage()
	if !cov.Valid(span) || cov.Overlaps(span) {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s not inside a gap of %s", span, cov), coreerrors.ErrInvalidSpan)
	}
	return e.options(h, span), nil
}

// TranslationOptions returns the pruned table candidates of span,
// regardless of mode.
func (e *Engine) TranslationOptions(span hypothesis.Span) ([]scorecache.Option, error) {
	if span.Left < 1 || span.Right > len(e.src) || span.Left > span.Right {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s outside sentence of length %d", span, len(e.src)), coreerrors.ErrInvalidSpan)
	}
	return e.translationOptions(span), nil
}

// ReferenceOptions returns the reference slices that may cover span next.
// It is only available when decoding against a reference.
func (e *Engine) ReferenceOptions(h *hypothesis.Hypothesis, span hypothesis.Span) ([]scorecache.Option, error) {
	if e.sentence.Mode != ModeReference && e.sentence.Mode != ModeVerify {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("reference options in %s mode", e.sentence.Mode), coreerrors.ErrInactiveMode)
	}
	cov := h.Coverage()
	if !cov.Valid(span) || cov.Overlaps(span) {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration,
			fmt.Sprintf("span %s not inside a gap of %s", span, cov), coreerrors.ErrInvalidSpan)
	}
	return e.referenceOptions(h, span), nil
}

func (e *Engine) options(h *hypothesis.Hypothesis, span hypothesis.Span) []scorecache.Option {
	switch e.sentence.Mode {
	case ModeReference:
		return e.referenceOptions(h, span)
	case ModePrefix:
		if len(h.Words()) < len(e.target) {
			return e.prefixOptions(h, span)
		}
	}
	return e.translationOptions(span)
}

// candidates returns the raw table translations of span. An unseen single
// word falls back to the unknown word.
func (e *Engine) candidates(span hypothesis.Span) []models.Phrase {
	trans, ok := e.cache.Translations(e.sourcePhrase(span))
	if ok && len(trans) > 0 {
		return trans
	}
	if span.Len() == 1 && e.Unseen(span.Left) {
		return []models.Phrase{{models.UnknownWord}}
	}
	return nil
}

func (e *Engine) translationOptions(span hypothesis.Span) []scorecache.Option {
	if opts, ok := e.cache.Options(span); ok {
		return opts
	}
	opts := e.score(span, e.candidates(span))
	opts = e.prune(opts)
	e.cache.StoreOptions(span, opts)
	return opts
}

// referenceOptions returns the slices of the reference starting after the
// words h already produced, pruned like table candidates. Unless span closes
// the last gap, enough of the reference is left over for every remaining gap
// to produce a word.
func (e *Engine) referenceOptions(h *hypothesis.Hypothesis, span hypothesis.Span) []scorecache.Option {
	generated := len(h.Words())
	gaps := len(h.Coverage().With(span).Gaps())
	key := scorecache.ReferenceKey{Span: span, Generated: generated, Gaps: gaps}
	if opts, ok := e.cache.ReferenceOptions(key); ok {
		return opts
	}

	lo, hi := e.lengthBounds(span)
	var phrases []models.Phrase
	if generated < len(e.target) {
		if gaps == 0 {
			rest := e.target[generated:]
			if len(rest) >= lo && len(rest) <= hi {
				phrases = append(phrases, rest)
			}
		} else {
			for n := lo; n <= hi && generated+n <= len(e.target)-gaps; n++ {
				phrases = append(phrases, e.target[generated:generated+n])
			}
		}
	}

	opts := e.prune(e.score(span, phrases))
	e.cache.StoreReferenceOptions(key, opts)
	return opts
}

// prefixOptions returns the candidates of span while the prefix is not yet
// fully produced: table translations completing it, shorter prefix slices
// and the rest of the prefix itself.
func (e *Engine) prefixOptions(h *hypothesis.Hypothesis, span hypothesis.Span) []scorecache.Option {
	generated := len(h.Words())
	lastGap := len(h.Coverage().With(span).Gaps()) == 0
	key := scorecache.PrefixKey{Span: span, Generated: generated, LastGap: lastGap}
	if opts, ok := e.cache.PrefixOptions(key); ok {
		return opts
	}

	rest := e.target[generated:]
	seen := make(map[string]struct{})
	var phrases []models.Phrase
	add := func(p models.Phrase) {
		k := p.Key()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		phrases = append(phrases, p)
	}

	completions := 0
	for _, t := range e.candidates(span) {
		if len(t) >= len(rest) && e.extendsPrefix(rest, t) && !t.Equal(rest) {
			add(t)
			completions++
		}
	}
	if !lastGap {
		lo, hi := e.lengthBounds(span)
		for n := lo; n <= hi && generated+n <= len(e.target)-1; n++ {
			add(e.target[generated : generated+n])
		}
	}
	partial := e.sentence.PartialLastWord && rest[len(rest)-1] == models.UnknownWord
	if !partial || completions == 0 {
		add(rest)
	}

	opts := e.prune(e.score(span, phrases))
	if !partial || completions == 0 {
		opts = keepOption(opts, rest, func() scorecache.Option {
			return scorecache.Option{Phrase: rest, Score: e.nbestScore(span, rest)}
		})
	}
	e.cache.StorePrefixOptions(key, opts)
	return opts
}

// extendsPrefix reports whether words starts with prefix. When the last
// prefix word may be incomplete it only has to start the corresponding word.
func (e *Engine) extendsPrefix(prefix, words models.Phrase) bool {
	if len(words) < len(prefix) {
		return false
	}
	if len(prefix) == 0 {
		return true
	}
	last := len(prefix) - 1
	if !words[:last].Equal(prefix[:last]) {
		return false
	}
	if words[last] == prefix[last] {
		return true
	}
	if !e.sentence.PartialLastWord {
		return false
	}
	partial := e.sentence.Target[len(e.sentence.Target)-1]
	return strings.HasPrefix(e.vocab.TargetWord(words[last]), partial)
}

func (e *Engine) lengthBounds(span hypothesis.Span) (int, int) {
	lo := span.Len() - e.cfg.MaxLengthDiff
	if lo < 1 {
		lo = 1
	}
	return lo, span.Len() + e.cfg.MaxLengthDiff
}

func (e *Engine) score(span hypothesis.Span, phrases []models.Phrase) []scorecache.Option {
	opts := make([]scorecache.Option, len(phrases))
	for i, p := range phrases {
		opts[i] = scorecache.Option{Phrase: p, Score: e.nbestScore(span, p)}
	}
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Score > opts[j].Score })
	return opts
}

// prune keeps the best floor(W) options, or those within log(W) of the best
// when W is below 1. opts must be sorted best first.
func (e *Engine) prune(opts []scorecache.Option) []scorecache.Option {
	if len(opts) == 0 {
		return opts
	}
	w := e.cfg.MaxOptions
	if w >= 1 {
		if n := int(math.Floor(w)); len(opts) > n {
			opts = opts[:n]
		}
		return opts
	}
	threshold := opts[0].Score + math.Log(w)
	n := 0
	for n < len(opts) && opts[n].Score >= threshold {
		n++
	}
	return opts[:n]
}

func keepOption(opts []scorecache.Option, p models.Phrase, build func() scorecache.Option) []scorecache.Option {
	for _, o := range opts {
		if o.Phrase.Equal(p) {
			return opts
		}
	}
	return append(opts, build())
}
