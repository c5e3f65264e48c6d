// Package modeltest provides a small Spanish to English model set for tests.
package modeltest

import (
	"strings"

	"github.com/adalundhe/phrasedec/core/smt/models"
)

// PhraseTable is the toy phrase table in text form.
const PhraseTable = `
la ||| the ||| 0.9 0.8
casa ||| house ||| 0.8 0.8
casa ||| home ||| 0.2 0.3
verde ||| green ||| 0.9 0.9
casa verde ||| green house ||| 0.7 0.6
la casa ||| the house ||| 0.6 0.5
el ||| the ||| 0.9 0.5
perro ||| dog ||| 0.9 0.9
come ||| eats ||| 0.8 0.7
un ||| a ||| 0.9 0.9
`

// Lexicon is the toy word lexicon in text form.
const Lexicon = `
la the 0.9 0.8
casa house 0.7 0.7
casa home 0.3 0.2
verde green 0.9 0.9
el the 0.9 0.5
perro dog 0.9 0.9
come eats 0.8 0.7
un a 0.9 0.9
NULL the 0.05 0.01
`

// ARPA is the toy bigram language model.
const ARPA = `
\data\
ngram 1=10
ngram 2=9

\1-grams:
-99 <s> -0.5
-1.0 </s>
-1.2 the -0.4
-1.5 house -0.3
-1.6 home -0.3
-1.5 green -0.3
-1.8 dog -0.3
-1.8 eats -0.3
-2.0 a -0.3
-3.0 <unk>

\2-grams:
-0.3 <s> the
-0.4 the green
-0.5 the house
-0.2 green house
-0.3 house </s>
-0.4 home </s>
-0.5 the dog
-0.3 dog eats
-0.6 eats the
\end\
`

// Options tune the toy set.
type Options struct {
	// Lexicon enables the IBM-1 lexicon.
	Lexicon bool
	// SecondTable adds a second phrase table through a mux.
	SecondTable bool
}

// New builds the toy model set. It panics on malformed fixtures.
func New(opts Options) *models.Set {
	vocab := models.NewVocabulary()

	table, err := models.LoadPhraseTable(strings.NewReader(PhraseTable), vocab)
	must(err)
	var pt models.PhraseTable = table
	if opts.SecondTable {
		second := models.NewMemoryPhraseTable()
		src := models.SourcePhrase(vocab, []string{"casa"})
		second.Add(src, models.Phrase{vocab.AddTarget("home")}, 0.6, 0.4)
		second.Add(src, models.Phrase{vocab.AddTarget("house")}, 0.4, 0.6)
		pt = models.NewMuxPhraseTable(table, second)
	}

	lm, err := models.LoadARPA(strings.NewReader(ARPA), vocab)
	must(err)

	set := &models.Set{
		Vocabulary:  vocab,
		PhraseTable: pt,
		Language:    lm,
	}
	if opts.Lexicon {
		lex, err := models.LoadIBM1Lexicon(strings.NewReader(Lexicon), vocab)
		must(err)
		set.Lexicon = lex
	}

	set.Reordering, err = models.NewGeometricDistortion(0.5)
	must(err)
	set.SegmentLength, err = models.NewGeometricSegmentLength(0.5)
	must(err)
	set.WordPenalty, err = models.NewGeometricWordPenalty(0.9)
	must(err)
	return set
}

// Sentence splits a blank separated sentence.
func Sentence(s string) []string {
	return strings.Fields(s)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
