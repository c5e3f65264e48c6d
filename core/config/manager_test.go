package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/adalundhe/phrasedec/core/errors"
	"github.com/adalundhe/phrasedec/core/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Decoder.StackSize)
	assert.Equal(t, 10.0, cfg.Decoder.MaxOptions)
	assert.Equal(t, 0, cfg.Decoder.MaxJump)
	assert.Equal(t, "local_td", cfg.Decoder.Heuristic)
	assert.Equal(t, "state", cfg.Decoder.Recombination)
	assert.Equal(t, "memory", cfg.Models.PhraseTable.Type)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stack size", func(c *Config) { c.Decoder.StackSize = 0 }},
		{"heuristic", func(c *Config) { c.Decoder.Heuristic = "oracle" }},
		{"recombination", func(c *Config) { c.Decoder.Recombination = "none" }},
		{"lambda", func(c *Config) { c.Decoder.LexLambdaPTS = 1.5 }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"model type", func(c *Config) { c.Models.Language.Type = "" }},
		{"metrics namespace", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, coreerrors.ErrInvalidConfig)
			assert.Equal(t, coreerrors.KindConfiguration, coreerrors.GetKind(err))
		})
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager(nil, "", "")
	cfg := m.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.Decoder.StackSize)
	assert.Equal(t, ".", cfg.BaseDir())
}

func TestManagerLoadLayers(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()
	explicit := filepath.Join(t.TempDir(), "models", "run.yaml")

	writeFile(t, filepath.Join(project, ".phrasedec", "config.yaml"), `
decoder:
  stack_size: 50
  max_jump: 2
`)
	writeFile(t, filepath.Join(user, "config.yaml"), `
decoder:
  max_jump: 4
logging:
  format: json
`)
	writeFile(t, explicit, `
models:
  phrase_table:
    type: memory
    path: es-en.pt
decoder:
  nbest: 5
  weights:
    lm: 0.5
`)

	m := NewManager(&storage.Dirs{Config: user, State: t.TempDir()}, project, explicit)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 50, cfg.Decoder.StackSize)
	assert.Equal(t, 4, cfg.Decoder.MaxJump, "user file overrides project file")
	assert.Equal(t, 5, cfg.Decoder.NBest)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "es-en.pt", cfg.Models.PhraseTable.Path)
	assert.Equal(t, 0.5, cfg.Decoder.Weights["lm"])
	assert.Equal(t, filepath.Dir(explicit), cfg.BaseDir())
	assert.Equal(t, "arpa", cfg.Models.Language.Type, "unset sections keep defaults")
}

func TestManagerLoadErrors(t *testing.T) {
	m := NewManager(nil, "", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, m.Load(), "an explicit file must exist")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "decoder:\n  stack_size: 0\n")
	m = NewManager(nil, "", bad)
	err := m.Load()
	assert.ErrorIs(t, err, coreerrors.ErrInvalidConfig)
	assert.Equal(t, 10, m.Get().Decoder.StackSize, "a rejected load keeps the previous configuration")
}

func TestManagerEnvironmentOverride(t *testing.T) {
	t.Setenv("PHRASEDEC_STACK_SIZE", "200")
	t.Setenv("PHRASEDEC_MAX_JUMP", "3")
	t.Setenv("PHRASEDEC_HEURISTIC", "local_t")
	t.Setenv("PHRASEDEC_BEST_FIRST", "true")
	t.Setenv("PHRASEDEC_TIMEOUT", "2s")
	t.Setenv("PHRASEDEC_LOG_LEVEL", "DEBUG")

	m := NewManager(nil, "", "")
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 200, cfg.Decoder.StackSize)
	assert.Equal(t, 3, cfg.Decoder.MaxJump)
	assert.Equal(t, "local_t", cfg.Decoder.Heuristic)
	assert.True(t, cfg.Decoder.BestFirst)
	assert.Equal(t, 2*time.Second, cfg.Decoder.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestManagerApply(t *testing.T) {
	m := NewManager(nil, "", "")
	before := m.Get()

	require.NoError(t, m.Apply(&Config{Decoder: DecoderConfig{NBest: 7}}))
	assert.Equal(t, 7, m.Get().Decoder.NBest)
	assert.Equal(t, 1, before.Decoder.NBest, "applied overlays never mutate published configurations")

	err := m.Apply(&Config{Decoder: DecoderConfig{Heuristic: "oracle"}})
	assert.ErrorIs(t, err, coreerrors.ErrInvalidConfig)
	assert.Equal(t, "local_td", m.Get().Decoder.Heuristic)
}

func TestManagerOnChange(t *testing.T) {
	m := NewManager(nil, "", "")

	var seen *Config
	m.OnChange(func(cfg *Config) { seen = cfg })

	require.NoError(t, m.Load())
	assert.Same(t, m.Get(), seen)
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "decoder:\n  stack_size: 30\n")

	m := NewManager(nil, "", path)
	require.NoError(t, m.Load())
	assert.Equal(t, 30, m.Get().Decoder.StackSize)

	writeFile(t, path, "decoder:\n  stack_size: 70\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, 70, m.Get().Decoder.StackSize)
}

func TestManagerReload_KeepsOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "decoder:\n  stack_size: 30\n")

	m := NewManager(nil, "", path)
	require.NoError(t, m.Load())
	overlay := &Config{}
	overlay.Decoder.MaxJump = 3
	require.NoError(t, m.Apply(overlay))

	writeFile(t, path, "decoder:\n  stack_size: 70\n  max_jump: 1\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, 70, m.Get().Decoder.StackSize)
	assert.Equal(t, 3, m.Get().Decoder.MaxJump, "overlays win over files")
}

func TestManagerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "decoder:\n  stack_size: 30\n")

	m := NewManager(nil, "", path)
	m.Debounce = 50 * time.Millisecond
	require.NoError(t, m.Load())
	t.Cleanup(func() { m.Close() })

	var notified atomic.Int64
	m.OnChange(func(*Config) { notified.Add(1) })
	errs := make(chan error, 64)
	require.NoError(t, m.Watch(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	writeFile(t, path, "decoder:\n  stack_size: 70\n")
	require.Eventually(t, func() bool { return m.Get().Decoder.StackSize == 70 }, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, notified.Load())

	writeFile(t, path, "decoder:\n  stack_size: 0\n")
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, coreerrors.ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("invalid file was not reported")
	}
	assert.NoError(t, m.Get().Validate(), "a failed reload keeps the previous configuration")
}

func TestManagerWatch_NothingToWatch(t *testing.T) {
	m := NewManager(nil, "", filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.ErrorIs(t, m.Watch(nil), ErrNothingToWatch)
}

func TestManagerClose(t *testing.T) {
	m := NewManager(nil, "", "")
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "double close does not fail")
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := YAML(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), "stack_size: 10")
	assert.Contains(t, string(out), "language_model:")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.Logger(&buf)
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
