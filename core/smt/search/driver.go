// Package search runs the multi-stack decoding loop: one stack per number
// of covered source words, recombination of equivalent hypotheses and an
// optional word graph of everything that was generated.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/viterin/vek"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/heuristic"
	"github.com/adalundhe/phrasedec/core/smt/hypothesis"
	"github.com/adalundhe/phrasedec/core/smt/lattice"
)

// State is the phase of a driver.
type State int

const (
	Idle State = iota
	Translating
	TranslatingWithReference
	TranslatingWithPrefix
	VerifyingCoverage
)

var stateNames = map[State]string{
	Idle:                     "idle",
	Translating:              "translating",
	TranslatingWithReference: "translating_with_reference",
	TranslatingWithPrefix:    "translating_with_prefix",
	VerifyingCoverage:        "verifying_coverage",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Expander produces the children of a hypothesis.
type Expander interface {
	SourceLength() int
	Null() *hypothesis.Hypothesis
	Expand(h *hypothesis.Hypothesis) []*hypothesis.Hypothesis
	// Render spells the words of h and lists the 1-based positions of unknown words.
	Render(h *hypothesis.Hypothesis) ([]string, []int)
}

// Config bounds the search.
type Config struct {
	// StackSize is the capacity of every stack.
	StackSize int `yaml:"stack_size" json:"stack_size" validate:"min=1"`
	// ExpansionsPerIteration is the number of hypotheses popped per iteration.
	ExpansionsPerIteration int `yaml:"expansions_per_iteration" json:"expansions_per_iteration" validate:"min=1"`
	// BestFirst pops the globally best hypothesis instead of the least covered one.
	BestFirst bool `yaml:"best_first" json:"best_first"`
	// GlobalPrune drops hypotheses that cannot beat the best complete one.
	GlobalPrune bool `yaml:"global_prune" json:"global_prune"`
	// NBest is the number of complete hypotheses to collect.
	NBest int `yaml:"nbest" json:"nbest" validate:"min=1"`
}

// DefaultConfig returns the usual search bounds.
func DefaultConfig() Config {
	return Config{
		StackSize:              10,
		ExpansionsPerIteration: 1,
		NBest:                  1,
	}
}

// Stats summarizes one run.
type Stats struct {
	Iterations int `json:"iterations"`
	Expanded   int `json:"expanded"`
	Generated  int `json:"generated"`
	Recombined int `json:"recombined"`
	Evicted    int `json:"evicted"`
	Pruned     int `json:"pruned"`
	States     int `json:"states"`
}

// Result holds the complete hypotheses of a run, best first.
type Result struct {
	Hypotheses []*hypothesis.Hypothesis
	Stats      Stats
}

// Best returns the best complete hypothesis.
func (r *Result) Best() *hypothesis.Hypothesis {
	return r.Hypotheses[0]
}

// Option configures a Driver.
type Option func(*Driver)

// WithWordGraph records every expansion into g.
func WithWordGraph(g *lattice.WordGraph) Option {
	return func(d *Driver) { d.graph = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

type stack = Stack[hypothesis.Key, *hypothesis.Hypothesis]

// Driver searches one sentence. It is not safe for concurrent use.
type Driver struct {
	cfg    Config
	exp    Expander
	policy heuristic.Policy
	recomb *lattice.Recombiner
	graph  *lattice.WordGraph
	logger *slog.Logger

	state        State
	stacks       []*stack
	bestComplete float64
	stats        Stats
}

// NewDriver creates a driver. policy may be nil.
func NewDriver(cfg Config, exp Expander, policy heuristic.Policy, opts ...Option) (*Driver, error) {
	if cfg.StackSize < 1 || cfg.ExpansionsPerIteration < 1 || cfg.NBest < 1 {
		return nil, coreerrors.Configurationf("stack size, expansions per iteration and nbest must be positive")
	}
	d := &Driver{
		cfg:    cfg,
		exp:    exp,
		policy: policy,
		recomb: lattice.NewRecombiner(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current phase.
func (d *Driver) State() State { return d.state }

// Recombiner exposes the state index built by the last run.
func (d *Driver) Recombiner() *lattice.Recombiner { return d.recomb }

// Run searches until enough complete hypotheses have been popped or every
// stack is empty. ctx is checked between iterations.
func (d *Driver) Run(ctx context.Context, state State) (*Result, error) {
	if state == Idle {
		return nil, coreerrors.Wrap(coreerrors.KindConfiguration, "run requires a decoding state", coreerrors.ErrInactiveMode)
	}
	d.state = state
	defer func() { d.state = Idle }()
	d.reset()

	null := heuristic.Apply(d.policy, d.exp.Null())
	d.recomb.Observe(null)
	if d.graph != nil {
		d.graph.SetInitialScore(null.Score())
	}
	d.stacks[0].Push(null)

	var complete []*hypothesis.Hypothesis
	for len(complete) < d.cfg.NBest {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("search interrupted after %d iterations: %w", d.stats.Iterations, err)
		}
		batch := d.pop()
		if len(batch) == 0 {
			break
		}
		d.stats.Iterations++
		for _, h := range batch {
			if h.IsComplete() {
				if len(complete) < d.cfg.NBest {
					complete = append(complete, h)
				}
				continue
			}
			if d.cfg.GlobalPrune && d.dominated(h) {
				d.stats.Pruned++
				continue
			}
			d.expand(h)
		}
	}

	for _, s := range d.stacks {
		d.stats.Evicted += s.Evicted()
	}
	d.stats.States = d.recomb.Len()
	d.logger.Debug("search finished",
		slog.String("state", state.String()),
		slog.Int("iterations", d.stats.Iterations),
		slog.Int("expanded", d.stats.Expanded),
		slog.Int("states", d.stats.States),
		slog.Int("complete", len(complete)))

	if len(complete) == 0 {
		return nil, coreerrors.NewDecodeError(coreerrors.KindStarvedSearch,
			fmt.Sprintf("no complete hypothesis after %d iterations", d.stats.Iterations), nil).
			WithContext("state", state.String())
	}
	return &Result{Hypotheses: complete, Stats: d.stats}, nil
}

func (d *Driver) reset() {
	n := d.exp.SourceLength()
	d.stacks = make([]*stack, n+1)
	for i := range d.stacks {
		// Complete hypotheses share one key; the last stack keeps them apart
		// so that several can be collected.
		d.stacks[i] = NewStack[hypothesis.Key, *hypothesis.Hypothesis](d.cfg.StackSize, i < n)
	}
	d.recomb.Reset()
	d.bestComplete = math.Inf(-1)
	d.stats = Stats{}
}

// pop takes up to ExpansionsPerIteration hypotheses, from the least covered
// non-empty stack or, in best-first mode, the best ones overall.
func (d *Driver) pop() []*hypothesis.Hypothesis {
	var batch []*hypothesis.Hypothesis
	if !d.cfg.BestFirst {
		for _, s := range d.stacks {
			if s.Len() == 0 {
				continue
			}
			for len(batch) < d.cfg.ExpansionsPerIteration {
				h, ok := s.Pop()
				if !ok {
					break
				}
				batch = append(batch, h)
			}
			break
		}
		return batch
	}
	for len(batch) < d.cfg.ExpansionsPerIteration {
		var best *stack
		bestScore := math.Inf(-1)
		for _, s := range d.stacks {
			top, ok := s.Peek()
			if !ok {
				continue
			}
			if best == nil || top.RankScore() > bestScore {
				best = s
				bestScore = top.RankScore()
			}
		}
		if best == nil {
			break
		}
		h, _ := best.Pop()
		batch = append(batch, h)
	}
	return batch
}

func (d *Driver) dominated(h *hypothesis.Hypothesis) bool {
	return h.RankScore() <= d.bestComplete
}

func (d *Driver) expand(h *hypothesis.Hypothesis) {
	d.stats.Expanded++
	parent, _ := d.recomb.Index(h.Key())
	for _, child := range d.exp.Expand(h) {
		d.stats.Generated++
		c := heuristic.Apply(d.policy, child)
		idx, keep := d.recomb.Observe(c)
		if d.graph != nil {
			d.addArc(h, parent, c, idx)
		}

		if c.IsComplete() {
			if c.Score() > d.bestComplete {
				d.bestComplete = c.Score()
				if d.cfg.GlobalPrune {
					for _, s := range d.stacks[:len(d.stacks)-1] {
						d.stats.Pruned += s.PruneBelow(d.bestComplete)
					}
				}
			}
			d.stacks[len(d.stacks)-1].Push(c)
			continue
		}
		if !keep {
			d.stats.Recombined++
			continue
		}
		if d.cfg.GlobalPrune && d.dominated(c) {
			d.stats.Pruned++
			continue
		}
		d.stacks[c.Coverage().Count()].Push(c)
	}
}

func (d *Driver) addArc(parent *hypothesis.Hypothesis, from int, child *hypothesis.Hypothesis, to int) {
	rendered, unknown := d.exp.Render(child)
	produced := len(parent.Words())
	isUnknown := false
	for _, pos := range unknown {
		if pos > produced {
			isUnknown = true
			break
		}
	}
	span, _ := child.LastSpan()
	delta := vek.Sub(child.Components(), parent.Components())
	d.graph.AddArc(from, to, rendered[produced:], span, isUnknown, delta)
	if child.IsComplete() {
		d.graph.AddFinal(to)
	}
}
