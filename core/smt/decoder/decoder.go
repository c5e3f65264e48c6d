// Package decoder is the host-facing entry point. It turns a configuration
// and a model set into per-sentence searches and reports translations,
// k-best lists and word graphs.
package decoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viterin/vek"

	"github.com/adalundhe/phrasedec/core/cache"
	"github.com/adalundhe/phrasedec/core/config"
	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/metrics"
	"github.com/adalundhe/phrasedec/core/smt/expansion"
	"github.com/adalundhe/phrasedec/core/smt/heuristic"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/lattice"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/scorecache"
	"github.com/adalundhe/phrasedec/core/smt/search"
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. Every decode logs with a run_id attribute.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithMetrics records decodes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// WithObserver receives every expansion of every decode. The observer is
// called from the goroutine running the decode.
func WithObserver(fn expansion.Observer) Option {
	return func(d *Decoder) { d.observer = fn }
}

// Decoder translates sentences with a fixed model set. It is safe for
// concurrent use: each call builds its own search state.
type Decoder struct {
	cfg      config.DecoderConfig
	set      *models.Set
	features expansion.Features
	weights  expansion.Weights
	kind     heuristic.Kind
	keyFn    hypothesis.KeyFunc

	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer expansion.Observer
}

// New checks cfg against the model set and returns a decoder.
func New(cfg config.DecoderConfig, set *models.Set, opts ...Option) (*Decoder, error) {
	if set == nil || set.PhraseTable == nil || set.Language == nil || set.Vocabulary == nil {
		return nil, coreerrors.Configurationf("model set needs a vocabulary, a phrase table and a language model")
	}
	if set.Reordering == nil || set.SegmentLength == nil || set.WordPenalty == nil {
		return nil, coreerrors.Configurationf("model set needs reordering, segment length and word penalty models")
	}
	kind, err := heuristic.ParseKind(cfg.Heuristic)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	features := expansion.Features{Tables: set.PhraseTable.NumTables()}
	weights, err := expansion.NewWeights(features, cfg.Weights)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration, "weights", err)
	}

	d := &Decoder{
		cfg:      cfg,
		set:      set,
		features: features,
		weights:  weights,
		kind:     kind,
		logger:   slog.Default(),
	}
	switch cfg.Recombination {
	case "", "state":
	case "coverage":
		d.keyFn = hypothesis.CoverageKey
	default:
		return nil, coreerrors.Configurationf("unknown recombination %q", cfg.Recombination)
	}
	for _, opt := range opts {
		opt(d)
	}
	if _, err := d.searchConfig(); err != nil {
		return nil, err
	}
	return d, nil
}

// Features returns the score component names in weight order.
func (d *Decoder) Features() []string { return d.features.Names() }

// Weights returns the effective log-linear weights.
func (d *Decoder) Weights() map[string]float64 { return d.weights.Named(d.features) }

// Translate searches freely for the best translations of source.
func (d *Decoder) Translate(ctx context.Context, source string) (*Result, error) {
	return d.decode(ctx, expansion.Sentence{Tokens: strings.Fields(source), Mode: expansion.ModeTranslate})
}

// TranslateWithReference finds the best way of producing reference from source.
func (d *Decoder) TranslateWithReference(ctx context.Context, source, reference string) (*Result, error) {
	return d.decode(ctx, expansion.Sentence{
		Tokens: strings.Fields(source),
		Mode:   expansion.ModeReference,
		Target: strings.Fields(reference),
	})
}

// TranslateWithPrefix completes prefix. Unless prefix ends with a blank its
// last word may be incomplete.
func (d *Decoder) TranslateWithPrefix(ctx context.Context, source, prefix string) (*Result, error) {
	target := strings.Fields(prefix)
	return d.decode(ctx, expansion.Sentence{
		Tokens:          strings.Fields(source),
		Mode:            expansion.ModePrefix,
		Target:          target,
		PartialLastWord: len(target) > 0 && !strings.HasSuffix(prefix, " "),
	})
}

// VerifyCoverage checks whether the regular translation options of source
// can produce reference.
func (d *Decoder) VerifyCoverage(ctx context.Context, source, reference string) (*Result, error) {
	return d.decode(ctx, expansion.Sentence{
		Tokens: strings.Fields(source),
		Mode:   expansion.ModeVerify,
		Target: strings.Fields(reference),
	})
}

var searchStates = map[expansion.Mode]search.State{
	expansion.ModeTranslate: search.Translating,
	expansion.ModeReference: search.TranslatingWithReference,
	expansion.ModePrefix:    search.TranslatingWithPrefix,
	expansion.ModeVerify:    search.VerifyingCoverage,
}

func (d *Decoder) expansionConfig() expansion.Config {
	return expansion.Config{
		MaxOptions:         d.cfg.MaxOptions,
		MaxPhraseLength:    d.cfg.MaxPhraseLength,
		MaxLengthDiff:      d.cfg.MaxLengthDiff,
		MaxJump:            d.cfg.MaxJump,
		LexLambdaPTS:       d.cfg.LexLambdaPTS,
		LexLambdaPST:       d.cfg.LexLambdaPST,
		UnknownWordPenalty: d.cfg.UnknownWordPenalty,
	}
}

func (d *Decoder) searchConfig() (search.Config, error) {
	cfg := search.Config{
		StackSize:              d.cfg.StackSize,
		ExpansionsPerIteration: d.cfg.ExpansionsPerIteration,
		BestFirst:              d.cfg.BestFirst,
		GlobalPrune:            d.cfg.GlobalPrune,
		NBest:                  d.cfg.NBest,
	}
	if cfg.StackSize < 1 || cfg.ExpansionsPerIteration < 1 || cfg.NBest < 1 {
		return cfg, coreerrors.Configurationf("stack size %d, expansions per iteration %d and nbest %d must be positive",
			cfg.StackSize, cfg.ExpansionsPerIteration, cfg.NBest)
	}
	return cfg, nil
}

// session owns everything built for one sentence.
type session struct {
	id     string
	sent   expansion.Sentence
	logger *slog.Logger
	cache  *scorecache.Cache
	engine *expansion.Engine
	graph  *lattice.WordGraph
	driver *search.Driver
}

func (d *Decoder) newSession(sent expansion.Sentence) (*session, error) {
	s := &session{id: uuid.NewString(), sent: sent}
	s.logger = d.logger.With(slog.String("run_id", s.id), slog.String("mode", sent.Mode.String()))
	s.cache = scorecache.New(d.set.PhraseTable, d.set.Lexicon, d.set.Language)

	engineOpts := []expansion.Option{expansion.WithLogger(s.logger)}
	if d.observer != nil {
		engineOpts = append(engineOpts, expansion.WithObserver(d.observer))
	}
	if d.keyFn != nil {
		engineOpts = append(engineOpts, expansion.WithKeyFunc(d.keyFn))
	}
	engine, err := expansion.New(d.set, s.cache, d.expansionConfig(), d.weights, sent, engineOpts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	policy, err := heuristic.New(d.kind, engine)
	if err != nil {
		return nil, err
	}

	driverOpts := []search.Option{search.WithLogger(s.logger)}
	if d.cfg.WordGraph.Enabled {
		s.graph = lattice.NewWordGraph(sent.Tokens, d.features.Names(), d.weights)
		driverOpts = append(driverOpts, search.WithWordGraph(s.graph))
	}
	scfg, err := d.searchConfig()
	if err != nil {
		return nil, err
	}
	if s.driver, err = search.NewDriver(scfg, engine, policy, driverOpts...); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Decoder) decode(ctx context.Context, sent expansion.Sentence) (res *Result, err error) {
	start := time.Now()
	mode := sent.Mode.String()
	defer func() {
		d.metrics.ObserveDecode(mode, err, time.Since(start))
	}()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	s, err := d.newSession(sent)
	if err != nil {
		return nil, err
	}
	out, err := s.driver.Run(ctx, searchStates[sent.Mode])
	if err != nil {
		s.logger.Warn("decode failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("decode %q: %w", strings.Join(sent.Tokens, " "), err)
	}

	res = &Result{
		RunID:  s.id,
		Mode:   mode,
		Source: sent.Tokens,
		Stats:  out.Stats,
		Cache:  s.cache.Stats(),
		Graph:  s.graph,
		recomb: s.driver.Recombiner(),
	}
	for _, h := range out.Hypotheses {
		res.NBest = append(res.NBest, d.translation(s.engine, h))
	}
	if s.graph != nil {
		if m := d.cfg.WordGraph.PruneMargin; m > 0 {
			s.graph.Prune(m)
		}
		if d.cfg.WordGraph.Trim {
			s.graph.Trim()
		}
	}

	best := res.Best()
	d.metrics.ObserveSearch(mode, metrics.SearchStats{
		Expanded:   out.Stats.Expanded,
		Generated:  out.Stats.Generated,
		Recombined: out.Stats.Recombined,
		Evicted:    out.Stats.Evicted,
		States:     out.Stats.States,
	})
	d.metrics.ObserveUnknown(len(best.Unknown))
	d.metrics.ObserveCache(res.Cache)
	s.logger.Info("decoded",
		slog.Int("source_words", len(sent.Tokens)),
		slog.Int("target_words", len(best.Words)),
		slog.Float64("score", best.Score),
		slog.Int("expanded", out.Stats.Expanded),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (d *Decoder) translation(e *expansion.Engine, h *hypothesis.Hypothesis) Translation {
	words, unknown := e.Render(h)
	t := Translation{
		Text:       strings.Join(words, " "),
		Words:      words,
		Score:      h.Score(),
		Components: d.named(h.Components()),
		Alignment:  h.PhraseAlignment(),
		Unknown:    unknown,
		hyp:        h,
	}
	for _, st := range e.Steps(h) {
		produced := len(st.Parent.Words())
		t.Steps = append(t.Steps, Step{
			Source:     st.Span,
			Target:     words[produced : produced+len(st.Phrase)],
			Unknown:    st.Unknown,
			Score:      vek.Sum(st.Delta),
			Components: d.named(st.Delta),
		})
	}
	return t
}

func (d *Decoder) named(components []float64) map[string]float64 {
	names := d.features.Names()
	out := make(map[string]float64, len(names))
	for i, n := range names {
		out[n] = components[i]
	}
	return out
}

// Step is one phrase of a translation with its share of the score.
type Step struct {
	Source     hypothesis.Span    `json:"source"`
	Target     []string           `json:"target"`
	Unknown    bool               `json:"unknown,omitempty"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// Translation is one complete hypothesis rendered for the host.
type Translation struct {
	Text  string   `json:"text"`
	Words []string `json:"words"`
	Score float64  `json:"score"`
	// Components are the weighted feature scores; they sum to Score.
	Components map[string]float64         `json:"components"`
	Alignment  []hypothesis.AlignedPhrase `json:"alignment"`
	// Unknown lists the 1-based positions of words produced for unseen source words.
	Unknown []int  `json:"unknown,omitempty"`
	Steps   []Step `json:"steps"`

	hyp *hypothesis.Hypothesis
}

// Hypothesis returns the search hypothesis behind t.
func (t Translation) Hypothesis() *hypothesis.Hypothesis { return t.hyp }

// Result is the outcome of one decode.
type Result struct {
	RunID  string             `json:"run_id"`
	Mode   string             `json:"mode"`
	Source []string           `json:"source"`
	NBest  []Translation      `json:"nbest"`
	Stats  search.Stats       `json:"stats"`
	Cache  []cache.Snapshot   `json:"cache"`
	Graph  *lattice.WordGraph `json:"-"`

	recomb *lattice.Recombiner
}

// Best returns the highest scoring translation.
func (r *Result) Best() Translation { return r.NBest[0] }

// WriteStateIndex lists the recombined search states of the decode.
func (r *Result) WriteStateIndex(w io.Writer) error {
	return r.recomb.WriteStateIndex(w, strings.Join(r.Source, " "))
}
