package models

import "math"

// State is the opaque recurrent state of a language model. Two equal states
// score every continuation identically.
type State string

// PhraseProbSmooth is the probability assigned to phrase pairs missing from a table.
const PhraseProbSmooth = 1e-7

// LogPhraseProbSmooth is the natural log of PhraseProbSmooth.
var LogPhraseProbSmooth = math.Log(PhraseProbSmooth)

// PhraseTable is the translation-option collaborator. Every table in the
// set contributes one score per direction.
type PhraseTable interface {
	// Translations returns every target phrase known for src.
	Translations(src Phrase) ([]Phrase, bool)

	// NumTables returns the number of score components per direction.
	NumTables() int

	// LogPTS returns log p(trg|src) for each table.
	LogPTS(src, trg Phrase) []float64

	// LogPST returns log p(src|trg) for each table.
	LogPST(src, trg Phrase) []float64
}

// LexicalModel scores phrase pairs from word-level translation probabilities.
type LexicalModel interface {
	LogPTS(src, trg Phrase) float64
	LogPST(src, trg Phrase) float64
}

// LanguageModel scores target words incrementally.
type LanguageModel interface {
	// BeginState is the state after the sentence-start marker.
	BeginState() State

	// NullState is the state with an empty history.
	NullState() State

	// Score returns the log-probability of w given state and the state after w.
	Score(state State, w WordIndex) (float64, State)

	// EndScore returns the log-probability of the sentence end given state.
	EndScore(state State) float64
}

// ReorderingModel scores the jump between consecutively covered spans.
type ReorderingModel interface {
	JumpLogProb(offset int) float64
}

// SegmentLengthModel scores the lengths of source and target segments.
type SegmentLengthModel interface {
	// SourceLogProb scores a source segment length given the length of its translation.
	SourceLogProb(srcLen, trgLen int) float64

	// TargetLogProb scores a target segment length.
	TargetLogProb(trgLen int) float64
}

// WordPenaltyModel scores the length of the target sentence.
type WordPenaltyModel interface {
	// LogProb is the log-probability of a translation of exactly n words.
	LogProb(n int) float64

	// SumLogProb is the log-probability of a translation of at least n words.
	SumLogProb(n int) float64
}

// Set groups the collaborators needed by one decoder.
type Set struct {
	Vocabulary    VocabularyBridge
	PhraseTable   PhraseTable
	Lexicon       LexicalModel
	Language      LanguageModel
	Reordering    ReorderingModel
	SegmentLength SegmentLengthModel
	WordPenalty   WordPenaltyModel
}
