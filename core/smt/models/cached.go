package models

import (
	"encoding/binary"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/phrasedec/core/cache"
)

const (
	defaultNumCounters = 1e6 // counters for the admission policy
	defaultMaxCost     = 1e7 // words held across all entries
	defaultBufferItems = 64  // buffer items for async writes
	defaultLMEntries   = 1 << 16
)

// PhraseCacheConfig configures a CachedPhraseTable.
type PhraseCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func applyPhraseCacheDefaults(config *PhraseCacheConfig) *PhraseCacheConfig {
	cfg := &PhraseCacheConfig{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	}
	if config == nil {
		return cfg
	}
	if config.NumCounters > 0 {
		cfg.NumCounters = config.NumCounters
	}
	if config.MaxCost > 0 {
		cfg.MaxCost = config.MaxCost
	}
	if config.BufferItems > 0 {
		cfg.BufferItems = config.BufferItems
	}
	return cfg
}

// CachedPhraseTable memoizes phrase-table lookups across sentences. Unlike
// the per-sentence score cache it may evict, so it only fronts the table.
type CachedPhraseTable struct {
	table PhraseTable
	cache *ristretto.Cache
	stats *cache.Stats
}

type translationsEntry struct {
	trgs []Phrase
	ok   bool
}

// NewCachedPhraseTable wraps table with a shared ristretto cache.
func NewCachedPhraseTable(table PhraseTable, config *PhraseCacheConfig) (*CachedPhraseTable, error) {
	cfg := applyPhraseCacheDefaults(config)
	stats := cache.NewStats("phrase_table")

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		OnEvict: func(*ristretto.Item) {
			stats.RecordEviction()
		},
	})
	if err != nil {
		return nil, err
	}

	return &CachedPhraseTable{table: table, cache: c, stats: stats}, nil
}

func (c *CachedPhraseTable) Translations(src Phrase) ([]Phrase, bool) {
	key := cacheKey('t', src, nil)
	if v, found := c.cache.Get(key); found {
		if e, ok := v.(translationsEntry); ok {
			c.stats.RecordHit()
			return e.trgs, e.ok
		}
	}
	c.stats.RecordMiss()

	trgs, ok := c.table.Translations(src)
	cost := int64(len(src))
	for _, t := range trgs {
		cost += int64(len(t))
	}
	if c.cache.Set(key, translationsEntry{trgs: trgs, ok: ok}, cost) {
		c.stats.RecordSet()
	}
	return trgs, ok
}

func (c *CachedPhraseTable) NumTables() int { return c.table.NumTables() }

func (c *CachedPhraseTable) LogPTS(src, trg Phrase) []float64 {
	return c.scores('s', src, trg, c.table.LogPTS)
}

func (c *CachedPhraseTable) LogPST(src, trg Phrase) []float64 {
	return c.scores('i', src, trg, c.table.LogPST)
}

func (c *CachedPhraseTable) scores(kind byte, src, trg Phrase, fn func(src, trg Phrase) []float64) []float64 {
	key := cacheKey(kind, src, trg)
	if v, found := c.cache.Get(key); found {
		if s, ok := v.([]float64); ok {
			c.stats.RecordHit()
			return s
		}
	}
	c.stats.RecordMiss()

	s := fn(src, trg)
	if c.cache.Set(key, s, int64(len(src)+len(trg))) {
		c.stats.RecordSet()
	}
	return s
}

// Wait blocks until buffered writes are applied.
func (c *CachedPhraseTable) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedPhraseTable) Close() { c.cache.Close() }

// Stats returns the cache counters.
func (c *CachedPhraseTable) Stats() *cache.Stats { return c.stats }

func cacheKey(kind byte, src, trg Phrase) string {
	buf := make([]byte, 0, 3+4*(len(src)+len(trg)))
	buf = append(buf, kind)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(src)))
	for _, w := range src {
		buf = binary.BigEndian.AppendUint32(buf, uint32(w))
	}
	for _, w := range trg {
		buf = binary.BigEndian.AppendUint32(buf, uint32(w))
	}
	return string(buf)
}

type lmKey struct {
	state State
	word  WordIndex
}

type lmValue struct {
	logProb float64
	next    State
}

// CachedLanguageModel keeps the most recent n-gram queries in bounded LRU
// caches shared by every decode.
type CachedLanguageModel struct {
	lm    LanguageModel
	ngram *lru.Cache[lmKey, lmValue]
	end   *lru.Cache[State, float64]
	stats *cache.Stats
}

// NewCachedLanguageModel wraps lm with LRU caches of the given size.
func NewCachedLanguageModel(lm LanguageModel, size int) (*CachedLanguageModel, error) {
	if size <= 0 {
		size = defaultLMEntries
	}
	stats := cache.NewStats("language_model")

	ngram, err := lru.NewWithEvict[lmKey, lmValue](size, func(lmKey, lmValue) {
		stats.RecordEviction()
	})
	if err != nil {
		return nil, err
	}
	end, err := lru.New[State, float64](size)
	if err != nil {
		return nil, err
	}

	return &CachedLanguageModel{lm: lm, ngram: ngram, end: end, stats: stats}, nil
}

func (c *CachedLanguageModel) BeginState() State { return c.lm.BeginState() }

func (c *CachedLanguageModel) NullState() State { return c.lm.NullState() }

func (c *CachedLanguageModel) Score(state State, w WordIndex) (float64, State) {
	k := lmKey{state: state, word: w}
	if v, ok := c.ngram.Get(k); ok {
		c.stats.RecordHit()
		return v.logProb, v.next
	}
	c.stats.RecordMiss()

	lp, next := c.lm.Score(state, w)
	c.ngram.Add(k, lmValue{logProb: lp, next: next})
	c.stats.RecordSet()
	return lp, next
}

func (c *CachedLanguageModel) EndScore(state State) float64 {
	if v, ok := c.end.Get(state); ok {
		c.stats.RecordHit()
		return v
	}
	c.stats.RecordMiss()

	lp := c.lm.EndScore(state)
	c.end.Add(state, lp)
	c.stats.RecordSet()
	return lp
}

// Stats returns the cache counters.
func (c *CachedLanguageModel) Stats() *cache.Stats { return c.stats }
