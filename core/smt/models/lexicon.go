package models

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

// lexProbSmooth floors word translation probabilities missing from the lexicon.
const lexProbSmooth = 1e-7

type wordPair struct {
	src WordIndex
	trg WordIndex
}

// IBM1Lexicon scores phrase pairs with IBM model 1 word translation tables
// in both directions. The NULL word takes part on the conditioning side.
type IBM1Lexicon struct {
	pts map[wordPair]float64
	pst map[wordPair]float64
}

// NewIBM1Lexicon creates an empty lexicon.
func NewIBM1Lexicon() *IBM1Lexicon {
	return &IBM1Lexicon{
		pts: make(map[wordPair]float64),
		pst: make(map[wordPair]float64),
	}
}

// Add sets p(trg|src) and p(src|trg) for a word pair. Either side may be NullWord.
func (l *IBM1Lexicon) Add(src, trg WordIndex, pts, pst float64) {
	k := wordPair{src: src, trg: trg}
	l.pts[k] = pts
	l.pst[k] = pst
}

// LogPTS returns log p(trg|src) under model 1.
func (l *IBM1Lexicon) LogPTS(src, trg Phrase) float64 {
	norm := 1 / float64(len(src)+1)
	total := 0.0
	for _, t := range trg {
		sum := l.pts[wordPair{src: NullWord, trg: t}]
		for _, s := range src {
			sum += l.pts[wordPair{src: s, trg: t}]
		}
		total += math.Log(math.Max(sum*norm, lexProbSmooth))
	}
	return total
}

// LogPST returns log p(src|trg) under model 1.
func (l *IBM1Lexicon) LogPST(src, trg Phrase) float64 {
	norm := 1 / float64(len(trg)+1)
	total := 0.0
	for _, s := range src {
		sum := l.pst[wordPair{src: s, trg: NullWord}]
		for _, t := range trg {
			sum += l.pst[wordPair{src: s, trg: t}]
		}
		total += math.Log(math.Max(sum*norm, lexProbSmooth))
	}
	return total
}

// LoadIBM1Lexicon reads lines of the form "src trg p(t|s) p(s|t)". The
// word NULL denotes the empty word.
func LoadIBM1Lexicon(r io.Reader, vocab *Vocabulary) (*IBM1Lexicon, error) {
	l := NewIBM1Lexicon()
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 4 {
			return nil, fmt.Errorf("lexicon line %d: expected 4 columns, got %d", lineNo, len(cols))
		}
		probs, err := parseProbs(strings.Join(cols[2:], " "), 2)
		if err != nil {
			return nil, fmt.Errorf("lexicon line %d: %w", lineNo, err)
		}
		l.Add(vocab.AddSource(cols[0]), vocab.AddTarget(cols[1]), probs[0], probs[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return l, nil
}
