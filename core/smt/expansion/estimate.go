package expansion

import (
	"math"

	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
)

// TranslationEstimate returns the best context-free score of any candidate
// of span, or -Inf when span cannot be translated as a single phrase.
func (e *Engine) TranslationEstimate(span hypothesis.Span) float64 {
	best := math.Inf(-1)
	for _, opt := range e.translationOptions(span) {
		score := e.weights[FeatureLanguageModel] * e.cache.NullStateScore(opt.Phrase)
		pts, pst := e.phraseScores(span, opt.Phrase)
		for i := range pts {
			score += pts[i] + pst[i]
		}
		if score > best {
			best = score
		}
	}
	return best
}

// JumpEstimate returns the weighted distortion score of a jump of offset positions.
func (e *Engine) JumpEstimate(offset int) float64 {
	return e.weights[FeatureSourceJump] * e.reordering.JumpLogProb(offset)
}

// TargetEstimate returns the weighted language model score of the part of
// the reference or prefix that h has not produced yet, taken from the
// scores of the whole target read from the sentence start. It is zero in
// the other modes.
func (e *Engine) TargetEstimate(h *hypothesis.Hypothesis) float64 {
	if e.sentence.Mode != ModeReference && e.sentence.Mode != ModePrefix {
		return 0
	}
	generated := len(h.Words())
	if generated >= len(e.target) {
		return 0
	}
	rest := e.targetLM[len(e.target)] - e.targetLM[generated]
	return e.weights[FeatureLanguageModel] * rest
}
