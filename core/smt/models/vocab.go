// Package models defines the scoring collaborators consumed by the decoder
// together with small in-memory reference implementations of each of them.
package models

import (
	"encoding/binary"
	"strings"
	"sync"
)

// WordIndex identifies a word in a source or target vocabulary.
type WordIndex uint32

// Reserved indices shared by the source and target vocabularies.
const (
	NullWord    WordIndex = 0
	UnknownWord WordIndex = 1
	BeginWord   WordIndex = 2
	EndWord     WordIndex = 3
)

// Reserved surface forms.
const (
	NullWordStr    = "NULL"
	UnknownWordStr = "<unk>"
	BeginWordStr   = "<s>"
	EndWordStr     = "</s>"
)

// Phrase is a sequence of word indices.
type Phrase []WordIndex

// Key encodes the phrase into a comparable map key.
func (p Phrase) Key() string {
	buf := make([]byte, 4*len(p))
	for i, w := range p {
		binary.BigEndian.PutUint32(buf[4*i:], uint32(w))
	}
	return string(buf)
}

// PhraseFromKey decodes a key produced by Phrase.Key.
func PhraseFromKey(key string) Phrase {
	p := make(Phrase, len(key)/4)
	for i := range p {
		p[i] = WordIndex(binary.BigEndian.Uint32([]byte(key[4*i : 4*i+4])))
	}
	return p
}

// Equal reports whether two phrases hold the same words.
func (p Phrase) Equal(o Phrase) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p starts with prefix.
func (p Phrase) HasPrefix(prefix Phrase) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// VocabularyBridge maps surface strings to word indices and back for both
// sides of the translation direction.
type VocabularyBridge interface {
	SourceIndex(word string) (WordIndex, bool)
	TargetIndex(word string) (WordIndex, bool)
	SourceWord(idx WordIndex) string
	TargetWord(idx WordIndex) string
}

type wordTable struct {
	index map[string]WordIndex
	words []string
}

func newWordTable() wordTable {
	t := wordTable{index: make(map[string]WordIndex)}
	for _, w := range []string{NullWordStr, UnknownWordStr, BeginWordStr, EndWordStr} {
		t.index[w] = WordIndex(len(t.words))
		t.words = append(t.words, w)
	}
	return t
}

func (t *wordTable) add(word string) WordIndex {
	if idx, ok := t.index[word]; ok {
		return idx
	}
	idx := WordIndex(len(t.words))
	t.index[word] = idx
	t.words = append(t.words, word)
	return idx
}

// Vocabulary is the in-memory VocabularyBridge. Loaders add words while
// models are built; after that it is only read.
type Vocabulary struct {
	mu     sync.RWMutex
	source wordTable
	target wordTable
}

// NewVocabulary creates a vocabulary holding only the reserved words.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		source: newWordTable(),
		target: newWordTable(),
	}
}

// AddSource registers a source word and returns its index.
func (v *Vocabulary) AddSource(word string) WordIndex {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source.add(word)
}

// AddTarget registers a target word and returns its index.
func (v *Vocabulary) AddTarget(word string) WordIndex {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.target.add(word)
}

func (v *Vocabulary) SourceIndex(word string) (WordIndex, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	idx, ok := v.source.index[word]
	if !ok {
		return UnknownWord, false
	}
	return idx, true
}

func (v *Vocabulary) TargetIndex(word string) (WordIndex, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	idx, ok := v.target.index[word]
	if !ok {
		return UnknownWord, false
	}
	return idx, true
}

func (v *Vocabulary) SourceWord(idx WordIndex) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(idx) < len(v.source.words) {
		return v.source.words[idx]
	}
	return UnknownWordStr
}

func (v *Vocabulary) TargetWord(idx WordIndex) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(idx) < len(v.target.words) {
		return v.target.words[idx]
	}
	return UnknownWordStr
}

// SourceSize returns the number of source words including reserved ones.
func (v *Vocabulary) SourceSize() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.source.words)
}

// TargetSize returns the number of target words including reserved ones.
func (v *Vocabulary) TargetSize() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.target.words)
}

// SourcePhrase converts tokens to source indices, mapping unseen tokens to UnknownWord.
func SourcePhrase(v VocabularyBridge, tokens []string) Phrase {
	p := make(Phrase, len(tokens))
	for i, tok := range tokens {
		p[i], _ = v.SourceIndex(tok)
	}
	return p
}

// TargetPhrase converts tokens to target indices, mapping unseen tokens to UnknownWord.
func TargetPhrase(v VocabularyBridge, tokens []string) Phrase {
	p := make(Phrase, len(tokens))
	for i, tok := range tokens {
		p[i], _ = v.TargetIndex(tok)
	}
	return p
}

// TargetString renders target indices as a blank separated string.
func TargetString(v VocabularyBridge, p Phrase) string {
	words := make([]string, len(p))
	for i, w := range p {
		words[i] = v.TargetWord(w)
	}
	return strings.Join(words, " ")
}
