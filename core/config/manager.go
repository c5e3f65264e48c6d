// Package config loads the layered decoder configuration: built-in
// defaults, project and user YAML files, an explicit file and PHRASEDEC_*
// environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/smt/heuristic"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHRASEDEC_"

// ErrNothingToWatch is returned by Watch when none of the configuration
// directories exists.
var ErrNothingToWatch = errors.New("no configuration directory to watch")

// DefaultWatchDebounce is how long Watch waits after the last file event
// before reloading.
const DefaultWatchDebounce = 100 * time.Millisecond

// =============================================================================
// Configuration Types
// =============================================================================

type Config struct {
	Models  models.Specs  `yaml:"models" json:"models"`
	Decoder DecoderConfig `yaml:"decoder" json:"decoder"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Source is the last file that was loaded. Relative model paths are
	// resolved against its directory.
	Source string `yaml:"-" json:"-"`
}

// DecoderConfig bounds the search and selects the scoring options.
type DecoderConfig struct {
	// MaxOptions keeps the best W candidates per span, or those within
	// log(W) of the best when below 1.
	MaxOptions             float64 `yaml:"max_options" json:"max_options" validate:"gt=0"`
	StackSize              int     `yaml:"stack_size" json:"stack_size" validate:"min=1"`
	MaxPhraseLength        int     `yaml:"max_phrase_length" json:"max_phrase_length" validate:"min=1"`
	MaxLengthDiff          int     `yaml:"max_length_diff" json:"max_length_diff" validate:"min=0"`
	ExpansionsPerIteration int     `yaml:"expansions_per_iteration" json:"expansions_per_iteration" validate:"min=1"`
	MaxJump                int     `yaml:"max_jump" json:"max_jump" validate:"min=0"`
	Heuristic              string  `yaml:"heuristic" json:"heuristic" validate:"heuristic"`
	BestFirst              bool    `yaml:"best_first" json:"best_first"`
	GlobalPrune            bool    `yaml:"global_prune" json:"global_prune"`
	NBest                  int     `yaml:"nbest" json:"nbest" validate:"min=1"`
	UnknownWordPenalty     float64 `yaml:"unknown_word_penalty" json:"unknown_word_penalty" validate:"lte=0"`
	LexLambdaPTS           float64 `yaml:"lex_lambda_pts" json:"lex_lambda_pts" validate:"gt=0,lte=1"`
	LexLambdaPST           float64 `yaml:"lex_lambda_pst" json:"lex_lambda_pst" validate:"gt=0,lte=1"`
	// Recombination is "state" (coverage, last covered word, language
	// model state) or "coverage" (coverage only).
	Recombination string             `yaml:"recombination" json:"recombination" validate:"oneof=state coverage"`
	Weights       map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	WordGraph     WordGraphConfig    `yaml:"word_graph" json:"word_graph"`
	// Workers bounds concurrent sentences in batch decoding.
	Workers int           `yaml:"workers" json:"workers" validate:"min=1"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}

// WordGraphConfig controls word graph recording.
type WordGraphConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PruneMargin drops arcs whose best path is this much below the best
	// translation. Zero disables pruning.
	PruneMargin float64 `yaml:"prune_margin" json:"prune_margin" validate:"min=0"`
	Trim        bool    `yaml:"trim" json:"trim"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required_if=Enabled true"`
}

func DefaultConfig() *Config {
	return &Config{
		Models: models.Specs{
			PhraseTable:   models.Spec{Type: "memory", Path: "phrase_table.txt"},
			Lexicon:       models.Spec{Type: "none"},
			Language:      models.Spec{Type: "arpa", Path: "lm.arpa"},
			Reordering:    models.Spec{Type: "geometric", Params: map[string]float64{"p": 0.5}},
			SegmentLength: models.Spec{Type: "geometric", Params: map[string]float64{"p": 0.5}},
			WordPenalty:   models.Spec{Type: "geometric", Params: map[string]float64{"p": 0.9}},
			Cache:         models.CacheSpec{Enabled: true},
		},
		Decoder: DecoderConfig{
			MaxOptions:             10,
			StackSize:              10,
			MaxPhraseLength:        10,
			MaxLengthDiff:          10,
			ExpansionsPerIteration: 1,
			MaxJump:                0,
			Heuristic:              heuristic.LocalTD.String(),
			NBest:                  1,
			UnknownWordPenalty:     models.LogPhraseProbSmooth,
			LexLambdaPTS:           1,
			LexLambdaPST:           1,
			Recombination:          "state",
			Workers:                4,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "phrasedec"},
	}
}

// =============================================================================
// Validation
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("heuristic", validateHeuristic)
}

func validateHeuristic(fl validator.FieldLevel) bool {
	_, err := heuristic.ParseKind(fl.Field().String())
	return err == nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return coreerrors.Wrap(coreerrors.KindConfiguration, "invalid configuration",
			fmt.Errorf("%w: %w", coreerrors.ErrInvalidConfig, err))
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Models = cloneSpecs(c.Models)
	if c.Decoder.Weights != nil {
		out.Decoder.Weights = make(map[string]float64, len(c.Decoder.Weights))
		for k, v := range c.Decoder.Weights {
			out.Decoder.Weights[k] = v
		}
	}
	return &out
}

func cloneSpecs(s models.Specs) models.Specs {
	s.PhraseTable = cloneSpec(s.PhraseTable)
	s.Lexicon = cloneSpec(s.Lexicon)
	s.Language = cloneSpec(s.Language)
	s.Reordering = cloneSpec(s.Reordering)
	s.SegmentLength = cloneSpec(s.SegmentLength)
	s.WordPenalty = cloneSpec(s.WordPenalty)
	return s
}

func cloneSpec(s models.Spec) models.Spec {
	if s.Params != nil {
		params := make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		s.Params = params
	}
	if s.Parts != nil {
		parts := make([]models.Spec, len(s.Parts))
		for i, p := range s.Parts {
			parts[i] = cloneSpec(p)
		}
		s.Parts = parts
	}
	return s
}

// BaseDir is the directory relative model paths are resolved against.
func (c *Config) BaseDir() string {
	if c.Source == "" {
		return "."
	}
	return filepath.Dir(c.Source)
}

// Logger builds the process logger described by the logging section.
func (l LoggingConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// =============================================================================
// Manager
// =============================================================================

// Manager holds the effective configuration and notifies watchers when it
// changes. Get is safe for concurrent use.
type Manager struct {
	current    atomic.Pointer[Config]
	dirs       *storage.Dirs
	projectDir string
	file       string

	// loadMu serializes Load and Apply. overlays are re-applied on reload.
	loadMu   sync.Mutex
	overlays []*Config

	watchers  []func(*Config)
	watcherMu sync.RWMutex

	// Debounce delays reloads triggered by Watch.
	Debounce  time.Duration
	stopWatch chan struct{}
	watchOnce sync.Once
}

// NewManager creates a manager holding the defaults. file, when not empty,
// is loaded last and must exist. dirs may be nil to skip the user file.
func NewManager(dirs *storage.Dirs, projectDir, file string) *Manager {
	m := &Manager{
		dirs:       dirs,
		projectDir: projectDir,
		file:       file,
		Debounce:   DefaultWatchDebounce,
		stopWatch:  make(chan struct{}),
	}
	m.current.Store(DefaultConfig())
	return m
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load rebuilds the configuration from defaults, files and environment,
// then re-applies every overlay given to Apply.
func (m *Manager) Load() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	cfg := DefaultConfig()

	if m.projectDir != "" {
		project := storage.ResolveProjectDirs(m.projectDir)
		if err := m.loadYAMLFile(project.Config, cfg, false); err != nil {
			return fmt.Errorf("project config: %w", err)
		}
		if err := m.loadYAMLFile(filepath.Join(project.Local, "config.yaml"), cfg, false); err != nil {
			return fmt.Errorf("local config: %w", err)
		}
	}

	if m.dirs != nil {
		if err := m.loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg, false); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}

	if m.file != "" {
		if err := m.loadYAMLFile(m.file, cfg, true); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}

	applyEnvironment(cfg)
	for _, o := range m.overlays {
		DeepMerge(cfg, o)
	}
	return m.store(cfg)
}

// files lists the configuration files in load order.
func (m *Manager) files() []string {
	var files []string
	if m.projectDir != "" {
		project := storage.ResolveProjectDirs(m.projectDir)
		files = append(files, project.Config, filepath.Join(project.Local, "config.yaml"))
	}
	if m.dirs != nil {
		files = append(files, m.dirs.ConfigDir("config.yaml"))
	}
	if m.file != "" {
		files = append(files, m.file)
	}
	return files
}

// Apply merges the non-zero fields of overlay into the current
// configuration. The overlay survives later reloads.
func (m *Manager) Apply(overlay *Config) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	cfg := m.Get().Clone()
	DeepMerge(cfg, overlay)
	if err := m.store(cfg); err != nil {
		return err
	}
	m.overlays = append(m.overlays, overlay)
	return nil
}

func (m *Manager) store(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

func (m *Manager) loadYAMLFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return coreerrors.Wrap(coreerrors.KindConfiguration, path, err)
	}
	cfg.Source = path
	return nil
}

func applyEnvironment(cfg *Config) {
	d := &cfg.Decoder
	setInt(&d.StackSize, "STACK_SIZE")
	setInt(&d.MaxJump, "MAX_JUMP")
	setInt(&d.NBest, "NBEST")
	setInt(&d.Workers, "WORKERS")
	setInt(&d.ExpansionsPerIteration, "EXPANSIONS_PER_ITERATION")
	if v := os.Getenv(EnvPrefix + "HEURISTIC"); v != "" {
		d.Heuristic = v
	}
	if v := os.Getenv(EnvPrefix + "BEST_FIRST"); v != "" {
		d.BestFirst = strings.ToLower(v) == "true"
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		if t, err := time.ParseDuration(v); err == nil {
			d.Timeout = t
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_OPTIONS"); v != "" {
		if f, err := parseFloat(v); err == nil {
			d.MaxOptions = f
		}
	}
	if v := os.Getenv(EnvPrefix + "UNKNOWN_WORD_PENALTY"); v != "" {
		if f, err := parseFloat(v); err == nil {
			d.UnknownWordPenalty = f
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPrefix + "METRICS"); v != "" {
		cfg.Metrics.Enabled = strings.ToLower(v) == "true"
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := parseInt(v); err == nil {
			*dst = n
		}
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

// Watch reloads the configuration whenever one of its files is written,
// created, renamed or removed, until Close. A failed reload keeps the
// previous configuration and is reported to onError, which may be nil.
// Watchers registered with OnChange must not call Load or Apply.
func (m *Manager) Watch(onError func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, f := range m.files() {
		f = filepath.Clean(f)
		files[f] = struct{}{}
		dir := filepath.Dir(f)
		if _, seen := dirs[dir]; seen {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = struct{}{}
	}
	if len(dirs) == 0 {
		w.Close()
		return ErrNothingToWatch
	}
	go m.watch(w, files, onError)
	return nil
}

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

func (m *Manager) watch(w *fsnotify.Watcher, files map[string]struct{}, onError func(error)) {
	defer w.Close()
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-m.stopWatch:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if _, watched := files[filepath.Clean(ev.Name)]; !watched || ev.Op&reloadOps == 0 {
				continue
			}
			debounce = time.After(m.Debounce)
		case <-debounce:
			debounce = nil
			if err := m.Reload(); err != nil {
				report(err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			report(err)
		}
	}
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

// YAML renders cfg as it would be written in a config file.
func YAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
