// Package scorecache memoizes model queries for the lifetime of one
// sentence's decode.
//
// Entries depend on the recurrent language model state and on the
// reference or prefix being decoded, so nothing survives Reset. A Cache is
// owned by a single decode and is not safe for concurrent use.
package scorecache

import (
	"github.com/adalundhe/phrasedec/core/cache"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/models"
)

// Option is a scored translation candidate for a source span.
type Option struct {
	Phrase models.Phrase
	Score  float64
}

// ReferenceKey keys option lists generated against a reference.
type ReferenceKey struct {
	Span      hypothesis.Span
	Generated int
	Gaps      int
}

// PrefixKey keys option lists generated against a prefix.
type PrefixKey struct {
	Span      hypothesis.Span
	Generated int
	LastGap   bool
}

type translations struct {
	phrases []models.Phrase
	ok      bool
}

type ngramKey struct {
	state models.State
	word  models.WordIndex
}

type ngramValue struct {
	logProb float64
	next    models.State
}

// Cache holds the per-sentence memo tables.
type Cache struct {
	table   models.PhraseTable
	lexicon models.LexicalModel
	lm      models.LanguageModel

	trans     map[string]translations
	ngram     map[ngramKey]ngramValue
	end       map[models.State]float64
	nullLM    map[string]float64
	pts       map[string][]float64
	pst       map[string][]float64
	lexPTS    map[string]float64
	lexPST    map[string]float64
	nbest     map[string]float64
	options   map[hypothesis.Span][]Option
	refOpts   map[ReferenceKey][]Option
	prefixOpt map[PrefixKey][]Option

	ngramStats  *cache.Stats
	phraseStats *cache.Stats
	optionStats *cache.Stats
}

// New creates an empty cache over the given collaborators. lexicon may be nil.
func New(table models.PhraseTable, lexicon models.LexicalModel, lm models.LanguageModel) *Cache {
	c := &Cache{
		table:       table,
		lexicon:     lexicon,
		lm:          lm,
		ngramStats:  cache.NewStats("ngram"),
		phraseStats: cache.NewStats("phrase_pair"),
		optionStats: cache.NewStats("options"),
	}
	c.Reset()
	return c
}

// Reset discards every entry. Counters are kept.
func (c *Cache) Reset() {
	c.trans = make(map[string]translations)
	c.ngram = make(map[ngramKey]ngramValue)
	c.end = make(map[models.State]float64)
	c.nullLM = make(map[string]float64)
	c.pts = make(map[string][]float64)
	c.pst = make(map[string][]float64)
	c.lexPTS = make(map[string]float64)
	c.lexPST = make(map[string]float64)
	c.nbest = make(map[string]float64)
	c.options = make(map[hypothesis.Span][]Option)
	c.refOpts = make(map[ReferenceKey][]Option)
	c.prefixOpt = make(map[PrefixKey][]Option)
}

// NgramScore returns log p(w|state) and the state after w.
func (c *Cache) NgramScore(state models.State, w models.WordIndex) (float64, models.State) {
	k := ngramKey{state: state, word: w}
	if v, ok := c.ngram[k]; ok {
		c.ngramStats.RecordHit()
		return v.logProb, v.next
	}
	c.ngramStats.RecordMiss()
	lp, next := c.lm.Score(state, w)
	c.ngram[k] = ngramValue{logProb: lp, next: next}
	c.ngramStats.RecordSet()
	return lp, next
}

// PhraseLMScore scores the words of phrase one after another from state.
func (c *Cache) PhraseLMScore(state models.State, phrase models.Phrase) (float64, models.State) {
	total := 0.0
	for _, w := range phrase {
		var lp float64
		lp, state = c.NgramScore(state, w)
		total += lp
	}
	return total, state
}

// EndScore returns the sentence-end log-probability given state.
func (c *Cache) EndScore(state models.State) float64 {
	if v, ok := c.end[state]; ok {
		c.ngramStats.RecordHit()
		return v
	}
	c.ngramStats.RecordMiss()
	lp := c.lm.EndScore(state)
	c.end[state] = lp
	c.ngramStats.RecordSet()
	return lp
}

// NullStateScore scores phrase under an empty history.
func (c *Cache) NullStateScore(phrase models.Phrase) float64 {
	k := phrase.Key()
	if v, ok := c.nullLM[k]; ok {
		c.ngramStats.RecordHit()
		return v
	}
	c.ngramStats.RecordMiss()
	lp, _ := c.PhraseLMScore(c.lm.NullState(), phrase)
	c.nullLM[k] = lp
	c.ngramStats.RecordSet()
	return lp
}

// BeginState is the language model state after the sentence start.
func (c *Cache) BeginState() models.State { return c.lm.BeginState() }

// NumTables returns the number of phrase score components per direction.
func (c *Cache) NumTables() int { return c.table.NumTables() }

// Translations returns every target phrase the table holds for src.
func (c *Cache) Translations(src models.Phrase) ([]models.Phrase, bool) {
	k := src.Key()
	if v, found := c.trans[k]; found {
		c.phraseStats.RecordHit()
		return v.phrases, v.ok
	}
	c.phraseStats.RecordMiss()
	phrases, ok := c.table.Translations(src)
	c.trans[k] = translations{phrases: phrases, ok: ok}
	c.phraseStats.RecordSet()
	return phrases, ok
}

// LogPTS returns log p(trg|src) per table.
func (c *Cache) LogPTS(src, trg models.Phrase) []float64 {
	return c.pairScores(c.pts, src, trg, c.table.LogPTS)
}

// LogPST returns log p(src|trg) per table.
func (c *Cache) LogPST(src, trg models.Phrase) []float64 {
	return c.pairScores(c.pst, src, trg, c.table.LogPST)
}

func (c *Cache) pairScores(m map[string][]float64, src, trg models.Phrase, fn func(src, trg models.Phrase) []float64) []float64 {
	k := pairKey(src, trg)
	if v, ok := m[k]; ok {
		c.phraseStats.RecordHit()
		return v
	}
	c.phraseStats.RecordMiss()
	v := fn(src, trg)
	m[k] = v
	c.phraseStats.RecordSet()
	return v
}

// HasLexicon reports whether lexical scores are available.
func (c *Cache) HasLexicon() bool { return c.lexicon != nil }

// LexPTS returns the lexical log p(trg|src).
func (c *Cache) LexPTS(src, trg models.Phrase) float64 {
	return c.lexScore(c.lexPTS, src, trg, c.lexicon.LogPTS)
}

// LexPST returns the lexical log p(src|trg).
func (c *Cache) LexPST(src, trg models.Phrase) float64 {
	return c.lexScore(c.lexPST, src, trg, c.lexicon.LogPST)
}

func (c *Cache) lexScore(m map[string]float64, src, trg models.Phrase, fn func(src, trg models.Phrase) float64) float64 {
	k := pairKey(src, trg)
	if v, ok := m[k]; ok {
		c.phraseStats.RecordHit()
		return v
	}
	c.phraseStats.RecordMiss()
	v := fn(src, trg)
	m[k] = v
	c.phraseStats.RecordSet()
	return v
}

// NbestScore memoizes the option ranking score of a phrase pair.
func (c *Cache) NbestScore(src, trg models.Phrase, compute func() float64) float64 {
	k := pairKey(src, trg)
	if v, ok := c.nbest[k]; ok {
		c.phraseStats.RecordHit()
		return v
	}
	c.phraseStats.RecordMiss()
	v := compute()
	c.nbest[k] = v
	c.phraseStats.RecordSet()
	return v
}

// Options returns the cached option list of a span.
func (c *Cache) Options(span hypothesis.Span) ([]Option, bool) {
	opts, ok := c.options[span]
	c.optionStats.Record(ok)
	return opts, ok
}

// StoreOptions caches the option list of a span.
func (c *Cache) StoreOptions(span hypothesis.Span, opts []Option) {
	c.options[span] = opts
	c.optionStats.RecordSet()
}

// ReferenceOptions returns a cached reference option list.
func (c *Cache) ReferenceOptions(k ReferenceKey) ([]Option, bool) {
	opts, ok := c.refOpts[k]
	c.optionStats.Record(ok)
	return opts, ok
}

// StoreReferenceOptions caches a reference option list.
func (c *Cache) StoreReferenceOptions(k ReferenceKey, opts []Option) {
	c.refOpts[k] = opts
	c.optionStats.RecordSet()
}

// PrefixOptions returns a cached prefix option list.
func (c *Cache) PrefixOptions(k PrefixKey) ([]Option, bool) {
	opts, ok := c.prefixOpt[k]
	c.optionStats.Record(ok)
	return opts, ok
}

// StorePrefixOptions caches a prefix option list.
func (c *Cache) StorePrefixOptions(k PrefixKey, opts []Option) {
	c.prefixOpt[k] = opts
	c.optionStats.RecordSet()
}

// Stats returns a snapshot of every table's counters.
func (c *Cache) Stats() []cache.Snapshot {
	return []cache.Snapshot{
		c.ngramStats.Snapshot(),
		c.phraseStats.Snapshot(),
		c.optionStats.Snapshot(),
	}
}

func pairKey(src, trg models.Phrase) string {
	sk := src.Key()
	buf := make([]byte, 0, 2+len(sk)+4*len(trg))
	buf = append(buf, byte(len(src)>>8), byte(len(src)))
	buf = append(buf, sk...)
	buf = append(buf, trg.Key()...)
	return string(buf)
}
