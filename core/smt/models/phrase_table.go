package models

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type phraseEntry struct {
	trg    Phrase
	logPTS float64
	logPST float64
}

// MemoryPhraseTable is a single phrase table held in maps. It is safe for
// concurrent reads once loading is done.
type MemoryPhraseTable struct {
	entries map[string][]phraseEntry
	pairs   map[string]map[string]int
}

// NewMemoryPhraseTable creates an empty table.
func NewMemoryPhraseTable() *MemoryPhraseTable {
	return &MemoryPhraseTable{
		entries: make(map[string][]phraseEntry),
		pairs:   make(map[string]map[string]int),
	}
}

// Add inserts or replaces the probabilities of a phrase pair.
func (t *MemoryPhraseTable) Add(src, trg Phrase, pts, pst float64) {
	sk, tk := src.Key(), trg.Key()
	entry := phraseEntry{
		trg:    append(Phrase(nil), trg...),
		logPTS: math.Log(pts),
		logPST: math.Log(pst),
	}
	idx, ok := t.pairs[sk]
	if !ok {
		idx = make(map[string]int)
		t.pairs[sk] = idx
	}
	if i, ok := idx[tk]; ok {
		t.entries[sk][i] = entry
		return
	}
	idx[tk] = len(t.entries[sk])
	t.entries[sk] = append(t.entries[sk], entry)
}

func (t *MemoryPhraseTable) Translations(src Phrase) ([]Phrase, bool) {
	entries, ok := t.entries[src.Key()]
	if !ok || len(entries) == 0 {
		return nil, false
	}
	out := make([]Phrase, len(entries))
	for i, e := range entries {
		out[i] = e.trg
	}
	return out, true
}

func (t *MemoryPhraseTable) NumTables() int { return 1 }

func (t *MemoryPhraseTable) LogPTS(src, trg Phrase) []float64 {
	if e, ok := t.lookup(src, trg); ok {
		return []float64{e.logPTS}
	}
	return []float64{LogPhraseProbSmooth}
}

func (t *MemoryPhraseTable) LogPST(src, trg Phrase) []float64 {
	if e, ok := t.lookup(src, trg); ok {
		return []float64{e.logPST}
	}
	return []float64{LogPhraseProbSmooth}
}

func (t *MemoryPhraseTable) lookup(src, trg Phrase) (phraseEntry, bool) {
	sk := src.Key()
	i, ok := t.pairs[sk][trg.Key()]
	if !ok {
		return phraseEntry{}, false
	}
	return t.entries[sk][i], true
}

// Size returns the number of phrase pairs.
func (t *MemoryPhraseTable) Size() int {
	n := 0
	for _, e := range t.entries {
		n += len(e)
	}
	return n
}

// LoadPhraseTable reads lines of the form
//
//	source words ||| target words ||| p(t|s) p(s|t)
//
// registering every word in vocab.
func LoadPhraseTable(r io.Reader, vocab *Vocabulary) (*MemoryPhraseTable, error) {
	t := NewMemoryPhraseTable()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "|||")
		if len(fields) < 3 {
			return nil, fmt.Errorf("phrase table line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		srcWords := strings.Fields(fields[0])
		trgWords := strings.Fields(fields[1])
		if len(srcWords) == 0 || len(trgWords) == 0 {
			return nil, fmt.Errorf("phrase table line %d: empty phrase", lineNo)
		}
		probs, err := parseProbs(fields[2], 2)
		if err != nil {
			return nil, fmt.Errorf("phrase table line %d: %w", lineNo, err)
		}

		src := make(Phrase, len(srcWords))
		for i, w := range srcWords {
			src[i] = vocab.AddSource(w)
		}
		trg := make(Phrase, len(trgWords))
		for i, w := range trgWords {
			trg[i] = vocab.AddTarget(w)
		}
		t.Add(src, trg, probs[0], probs[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read phrase table: %w", err)
	}
	return t, nil
}

func parseProbs(field string, want int) ([]float64, error) {
	cols := strings.Fields(field)
	if len(cols) < want {
		return nil, fmt.Errorf("expected %d probabilities, got %d", want, len(cols))
	}
	probs := make([]float64, want)
	for i := 0; i < want; i++ {
		p, err := strconv.ParseFloat(cols[i], 64)
		if err != nil {
			return nil, err
		}
		if p <= 0 || p > 1 {
			return nil, fmt.Errorf("probability %v outside (0,1]", p)
		}
		probs[i] = p
	}
	return probs, nil
}

// MuxPhraseTable combines several tables; each contributes its own score
// components and the candidate sets are merged.
type MuxPhraseTable struct {
	tables []PhraseTable
}

// NewMuxPhraseTable creates a table multiplexing the given tables.
func NewMuxPhraseTable(tables ...PhraseTable) *MuxPhraseTable {
	return &MuxPhraseTable{tables: tables}
}

func (m *MuxPhraseTable) Translations(src Phrase) ([]Phrase, bool) {
	seen := make(map[string]struct{})
	var out []Phrase
	for _, t := range m.tables {
		trgs, ok := t.Translations(src)
		if !ok {
			continue
		}
		for _, trg := range trgs {
			k := trg.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, trg)
		}
	}
	return out, len(out) > 0
}

func (m *MuxPhraseTable) NumTables() int {
	n := 0
	for _, t := range m.tables {
		n += t.NumTables()
	}
	return n
}

func (m *MuxPhraseTable) LogPTS(src, trg Phrase) []float64 {
	out := make([]float64, 0, m.NumTables())
	for _, t := range m.tables {
		out = append(out, t.LogPTS(src, trg)...)
	}
	return out
}

func (m *MuxPhraseTable) LogPST(src, trg Phrase) []float64 {
	out := make([]float64, 0, m.NumTables())
	for _, t := range m.tables {
		out = append(out, t.LogPST(src, trg)...)
	}
	return out
}
