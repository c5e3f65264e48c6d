package models

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// lmProbSmooth is used for words the model has never seen when it carries no <unk> entry.
const lmProbSmooth = 1e-7

type ngramEntry struct {
	logProb float64
	backoff float64
}

// BackoffLM is an n-gram language model with Katz-style back-off, as stored
// in ARPA files. Log-probabilities are kept in natural log.
type BackoffLM struct {
	order  int
	ngrams map[string]ngramEntry
}

// NewBackoffLM creates an empty model of the given order.
func NewBackoffLM(order int) *BackoffLM {
	if order < 1 {
		order = 1
	}
	return &BackoffLM{order: order, ngrams: make(map[string]ngramEntry)}
}

// Order returns the n-gram order.
func (m *BackoffLM) Order() int { return m.order }

// Add sets the natural-log probability and back-off weight of an n-gram.
func (m *BackoffLM) Add(ngram Phrase, logProb, backoff float64) {
	m.ngrams[ngram.Key()] = ngramEntry{logProb: logProb, backoff: backoff}
}

func (m *BackoffLM) BeginState() State {
	return m.truncate(Phrase{BeginWord})
}

func (m *BackoffLM) NullState() State { return "" }

func (m *BackoffLM) Score(state State, w WordIndex) (float64, State) {
	hist := PhraseFromKey(string(state))
	lp := m.logProb(hist, w)
	return lp, m.truncate(append(hist, w))
}

func (m *BackoffLM) EndScore(state State) float64 {
	return m.logProb(PhraseFromKey(string(state)), EndWord)
}

func (m *BackoffLM) logProb(hist Phrase, w WordIndex) float64 {
	acc := 0.0
	for start := 0; start <= len(hist); start++ {
		ctx := hist[start:]
		ngram := append(append(Phrase(nil), ctx...), w)
		if e, ok := m.ngrams[ngram.Key()]; ok {
			return acc + e.logProb
		}
		if len(ctx) > 0 {
			acc += m.ngrams[ctx.Key()].backoff
		}
	}
	if e, ok := m.ngrams[Phrase{UnknownWord}.Key()]; ok {
		return acc + e.logProb
	}
	return acc + math.Log(lmProbSmooth)
}

func (m *BackoffLM) truncate(hist Phrase) State {
	keep := m.order - 1
	if len(hist) > keep {
		hist = hist[len(hist)-keep:]
	}
	return State(hist.Key())
}

// LoadARPA reads a language model in ARPA format, registering target words in vocab.
func LoadARPA(r io.Reader, vocab *Vocabulary) (*BackoffLM, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	order := 0
	current := 0
	var m *BackoffLM
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == `\data\`:
			continue
		case line == `\end\`:
			if m == nil {
				return nil, fmt.Errorf("arpa: no n-gram sections")
			}
			return m, nil
		case strings.HasPrefix(line, "ngram "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(line[len("ngram "):], "=", 2)[0]))
			if err != nil {
				return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
			}
			if n > order {
				order = n
			}
			continue
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			n, err := strconv.Atoi(line[1:strings.Index(line, "-")])
			if err != nil {
				return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
			}
			if m == nil {
				m = NewBackoffLM(order)
			}
			current = n
			continue
		}

		if m == nil || current == 0 {
			return nil, fmt.Errorf("arpa line %d: n-gram outside of a section", lineNo)
		}
		cols := strings.Fields(line)
		if len(cols) != current+1 && len(cols) != current+2 {
			return nil, fmt.Errorf("arpa line %d: expected %d-gram", lineNo, current)
		}
		lp, err := strconv.ParseFloat(cols[0], 64)
		if err != nil {
			return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
		}
		bo := 0.0
		if len(cols) == current+2 {
			if bo, err = strconv.ParseFloat(cols[current+1], 64); err != nil {
				return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
			}
		}
		ngram := make(Phrase, current)
		for i := 0; i < current; i++ {
			ngram[i] = vocab.AddTarget(cols[1+i])
		}
		m.Add(ngram, lp*math.Ln10, bo*math.Ln10)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read arpa: %w", err)
	}
	return nil, fmt.Errorf("arpa: missing \\end\\ marker")
}
