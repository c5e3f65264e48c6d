package models

import (
	"fmt"
	"os"
	"path/filepath"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
)

// Spec selects and parameterizes one model implementation by type name.
type Spec struct {
	Type   string             `yaml:"type" json:"type" validate:"required"`
	Path   string             `yaml:"path,omitempty" json:"path,omitempty"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	Parts  []Spec             `yaml:"parts,omitempty" json:"parts,omitempty" validate:"dive"`
}

// Param returns a named parameter or def when unset.
func (s Spec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// CacheSpec configures the cross-sentence caches placed in front of the
// phrase table and the language model.
type CacheSpec struct {
	Enabled          bool  `yaml:"enabled" json:"enabled"`
	PhraseTableCost  int64 `yaml:"phrase_table_cost" json:"phrase_table_cost" validate:"gte=0"`
	LanguageModelLRU int   `yaml:"language_model_lru" json:"language_model_lru" validate:"gte=0"`
}

// Specs names the implementation of every collaborator.
type Specs struct {
	PhraseTable   Spec      `yaml:"phrase_table" json:"phrase_table"`
	Lexicon       Spec      `yaml:"lexicon" json:"lexicon"`
	Language      Spec      `yaml:"language_model" json:"language_model"`
	Reordering    Spec      `yaml:"reordering" json:"reordering"`
	SegmentLength Spec      `yaml:"segment_length" json:"segment_length"`
	WordPenalty   Spec      `yaml:"word_penalty" json:"word_penalty"`
	Cache         CacheSpec `yaml:"cache" json:"cache"`
}

// BuildContext carries what factories need besides their spec.
type BuildContext struct {
	Vocabulary *Vocabulary
	BaseDir    string
}

func (bc BuildContext) open(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("missing model path")
	}
	if !filepath.IsAbs(path) && bc.BaseDir != "" {
		path = filepath.Join(bc.BaseDir, path)
	}
	return os.Open(path)
}

// NewPhraseTable factory signature.
type NewPhraseTable func(spec Spec, bc BuildContext) (PhraseTable, error)

// NewLexicon factory signature. A nil model disables lexical interpolation.
type NewLexicon func(spec Spec, bc BuildContext) (LexicalModel, error)

// NewLanguageModel factory signature.
type NewLanguageModel func(spec Spec, bc BuildContext) (LanguageModel, error)

// NewReordering factory signature.
type NewReordering func(spec Spec, bc BuildContext) (ReorderingModel, error)

// NewSegmentLength factory signature.
type NewSegmentLength func(spec Spec, bc BuildContext) (SegmentLengthModel, error)

// NewWordPenalty factory signature.
type NewWordPenalty func(spec Spec, bc BuildContext) (WordPenaltyModel, error)

// PhraseTables is the phrase table factory registry.
var PhraseTables = map[string]NewPhraseTable{
	// memory: one text table loaded into maps
	"memory": func(spec Spec, bc BuildContext) (PhraseTable, error) {
		f, err := bc.open(spec.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadPhraseTable(f, bc.Vocabulary)
	},
}

// mux: several tables, one score component each. Registered in init
// because it resolves its parts through PhraseTables.
func init() {
	PhraseTables["mux"] = buildMuxPhraseTable
}

func buildMuxPhraseTable(spec Spec, bc BuildContext) (PhraseTable, error) {
	if len(spec.Parts) == 0 {
		return nil, fmt.Errorf("mux phrase table without parts")
	}
	tables := make([]PhraseTable, 0, len(spec.Parts))
	for i, part := range spec.Parts {
		t, err := buildPhraseTable(part, bc)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		tables = append(tables, t)
	}
	return NewMuxPhraseTable(tables...), nil
}

// Lexicons is the lexical model factory registry.
var Lexicons = map[string]NewLexicon{
	"none": func(Spec, BuildContext) (LexicalModel, error) { return nil, nil },
	"ibm1": func(spec Spec, bc BuildContext) (LexicalModel, error) {
		f, err := bc.open(spec.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadIBM1Lexicon(f, bc.Vocabulary)
	},
}

// LanguageModels is the language model factory registry.
var LanguageModels = map[string]NewLanguageModel{
	"arpa": func(spec Spec, bc BuildContext) (LanguageModel, error) {
		f, err := bc.open(spec.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadARPA(f, bc.Vocabulary)
	},
}

// ReorderingModels is the distortion model factory registry.
var ReorderingModels = map[string]NewReordering{
	"geometric": func(spec Spec, _ BuildContext) (ReorderingModel, error) {
		return NewGeometricDistortion(spec.Param("p", 0.5))
	},
}

// SegmentLengthModels is the segment length model factory registry.
var SegmentLengthModels = map[string]NewSegmentLength{
	"geometric": func(spec Spec, _ BuildContext) (SegmentLengthModel, error) {
		return NewGeometricSegmentLength(spec.Param("p", 0.5))
	},
}

// WordPenaltyModels is the word penalty factory registry.
var WordPenaltyModels = map[string]NewWordPenalty{
	"geometric": func(spec Spec, _ BuildContext) (WordPenaltyModel, error) {
		return NewGeometricWordPenalty(spec.Param("p", 0.9))
	},
}

func unknownType(role, name string) error {
	return coreerrors.Wrap(coreerrors.KindConfiguration,
		fmt.Sprintf("%s type %q", role, name), coreerrors.ErrUnknownModelType)
}

func buildPhraseTable(spec Spec, bc BuildContext) (PhraseTable, error) {
	f, ok := PhraseTables[spec.Type]
	if !ok {
		return nil, unknownType("phrase table", spec.Type)
	}
	return f(spec, bc)
}

// Build resolves every spec against the registries and returns the model set.
func Build(specs Specs, baseDir string) (*Set, error) {
	vocab := NewVocabulary()
	bc := BuildContext{Vocabulary: vocab, BaseDir: baseDir}
	set := &Set{Vocabulary: vocab}

	pt, err := buildPhraseTable(specs.PhraseTable, bc)
	if err != nil {
		return nil, fmt.Errorf("phrase table: %w", err)
	}
	set.PhraseTable = pt

	lexType := specs.Lexicon.Type
	if lexType == "" {
		lexType = "none"
	}
	newLex, ok := Lexicons[lexType]
	if !ok {
		return nil, unknownType("lexicon", lexType)
	}
	if set.Lexicon, err = newLex(specs.Lexicon, bc); err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}

	newLM, ok := LanguageModels[specs.Language.Type]
	if !ok {
		return nil, unknownType("language model", specs.Language.Type)
	}
	if set.Language, err = newLM(specs.Language, bc); err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}

	newReo, ok := ReorderingModels[specs.Reordering.Type]
	if !ok {
		return nil, unknownType("reordering", specs.Reordering.Type)
	}
	if set.Reordering, err = newReo(specs.Reordering, bc); err != nil {
		return nil, fmt.Errorf("reordering: %w", err)
	}

	newSeg, ok := SegmentLengthModels[specs.SegmentLength.Type]
	if !ok {
		return nil, unknownType("segment length", specs.SegmentLength.Type)
	}
	if set.SegmentLength, err = newSeg(specs.SegmentLength, bc); err != nil {
		return nil, fmt.Errorf("segment length: %w", err)
	}

	newWP, ok := WordPenaltyModels[specs.WordPenalty.Type]
	if !ok {
		return nil, unknownType("word penalty", specs.WordPenalty.Type)
	}
	if set.WordPenalty, err = newWP(specs.WordPenalty, bc); err != nil {
		return nil, fmt.Errorf("word penalty: %w", err)
	}

	if specs.Cache.Enabled {
		if err := set.EnableCaching(specs.Cache); err != nil {
			return nil, fmt.Errorf("model cache: %w", err)
		}
	}
	return set, nil
}

// EnableCaching wraps the phrase table and the language model with the
// cross-sentence caches.
func (s *Set) EnableCaching(spec CacheSpec) error {
	pt, err := NewCachedPhraseTable(s.PhraseTable, &PhraseCacheConfig{MaxCost: spec.PhraseTableCost})
	if err != nil {
		return err
	}
	lm, err := NewCachedLanguageModel(s.Language, spec.LanguageModelLRU)
	if err != nil {
		return err
	}
	s.PhraseTable = pt
	s.Language = lm
	return nil
}
