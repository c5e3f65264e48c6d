package expansion

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/models"
)

// Floor given to interpolation terms whose phrase probability vanished.
const logProbFloor = -9999999

// delta returns the weighted score of covering span with phrase from h, and
// the language model state after it.
func (e *Engine) delta(h *hypothesis.Hypothesis, span hypothesis.Span, phrase models.Phrase) ([]float64, models.State) {
	w := e.weights
	d := make([]float64, e.features.Len())
	trgLen := len(h.Words())
	n := len(phrase)

	d[FeatureWordPenalty] = w[FeatureWordPenalty] *
		(e.wordPenalty.SumLogProb(trgLen+n) - e.wordPenalty.SumLogProb(trgLen))

	lp, state := e.cache.PhraseLMScore(h.State(), phrase)
	d[FeatureLanguageModel] = w[FeatureLanguageModel] * lp

	d[FeatureTargetSegLen] = w[FeatureTargetSegLen] * e.segmentLength.TargetLogProb(n)
	d[FeatureSourceJump] = w[FeatureSourceJump] * e.reordering.JumpLogProb(span.Left-(h.LastCovered()+1))
	d[FeatureSourceSegLen] = w[FeatureSourceSegLen] * e.segmentLength.SourceLogProb(span.Len(), n)

	pts, pst := e.phraseScores(span, phrase)
	for i := 0; i < e.features.Tables; i++ {
		d[e.features.PTS(i)] = pts[i]
		d[e.features.PST(i)] = pst[i]
	}

	if h.Coverage().Count()+span.Len() == h.Coverage().Len() {
		total := trgLen + n
		d[FeatureWordPenalty] += w[FeatureWordPenalty] *
			(e.wordPenalty.LogProb(total) - e.wordPenalty.SumLogProb(total))
		d[FeatureLanguageModel] += w[FeatureLanguageModel] * e.cache.EndScore(state)
	}
	return d, state
}

// phraseScores returns the weighted direct and inverse phrase scores per table.
func (e *Engine) phraseScores(span hypothesis.Span, phrase models.Phrase) ([]float64, []float64) {
	tables := e.features.Tables
	pts := make([]float64, tables)
	pst := make([]float64, tables)

	if e.isFallback(span, phrase) {
		for i := 0; i < tables; i++ {
			pts[i] = e.weights[e.features.PTS(i)] * e.cfg.UnknownWordPenalty
			pst[i] = e.weights[e.features.PST(i)] * e.cfg.UnknownWordPenalty
		}
		return pts, pst
	}

	src := e.sourcePhrase(span)
	rawPTS := e.cache.LogPTS(src, phrase)
	rawPST := e.cache.LogPST(src, phrase)
	for i := 0; i < tables; i++ {
		pts[i] = e.weights[e.features.PTS(i)] * e.smooth(rawPTS[i], e.cfg.LexLambdaPTS, func() float64 {
			return e.cache.LexPTS(src, phrase)
		})
		pst[i] = e.weights[e.features.PST(i)] * e.smooth(rawPST[i], e.cfg.LexLambdaPST, func() float64 {
			return e.cache.LexPST(src, phrase)
		})
	}
	return pts, pst
}

// smooth interpolates a phrase log-probability with the lexical one:
// log(lambda*p + (1-lambda)*lex).
func (e *Engine) smooth(logp, lambda float64, lex func() float64) float64 {
	if lambda >= 1 || !e.cache.HasLexicon() {
		return logp
	}
	sum1 := math.Log(lambda) + logp
	if sum1 <= models.LogPhraseProbSmooth {
		sum1 = logProbFloor
	}
	sum2 := math.Log(1-lambda) + lex()
	return floats.LogSumExp([]float64{sum1, sum2})
}

// nbestScore ranks a candidate of span: word penalty, context-free language
// model score and phrase scores.
func (e *Engine) nbestScore(span hypothesis.Span, phrase models.Phrase) float64 {
	return e.cache.NbestScore(e.sourcePhrase(span), phrase, func() float64 {
		w := e.weights
		score := w[FeatureWordPenalty]*e.wordPenalty.LogProb(len(phrase)) +
			w[FeatureLanguageModel]*e.cache.NullStateScore(phrase)
		pts, pst := e.phraseScores(span, phrase)
		for i := range pts {
			score += pts[i] + pst[i]
		}
		return score
	})
}
