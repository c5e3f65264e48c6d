package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/phrasedec/core/config"
	"github.com/adalundhe/phrasedec/core/smt/decoder"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/smt/models/modeltest"
)

// =============================================================================
// Helpers
// =============================================================================

func resetFlags() {
	configPath, projectDir, logLevel, logFormat = "", ".", "", ""
	decodeInput, decodeWordGraph, decodePrefix, decodeReference = "", "", "", ""
	decodeHeuristic, decodeMetricsAddr = "", ""
	decodeNBest, decodeMaxJump, decodeStackSize = 0, 0, 0
	decodeVerify, decodeJSON, configJSON = false, false, false
}

// writeModels writes the toy models and a configuration pointing at them.
func writeModels(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	write("pt.txt", modeltest.PhraseTable)
	write("lm.arpa", modeltest.ARPA)
	return write("config.yaml", `
models:
  phrase_table:
    type: memory
    path: pt.txt
  language_model:
    type: arpa
    path: lm.arpa
logging:
  level: error
`)
}

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetFlags)
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// Decode Command Tests
// =============================================================================

func TestDecodeCmd_Definition(t *testing.T) {
	assert.Equal(t, "decode", decodeCmd.Use)
	flags := decodeCmd.Flags()

	input := flags.Lookup("input")
	require.NotNil(t, input)
	assert.Equal(t, "i", input.Shorthand)

	nbest := flags.Lookup("nbest")
	require.NotNil(t, nbest)
	assert.Equal(t, "n", nbest.Shorthand)
	assert.Equal(t, "0", nbest.DefValue)

	for _, name := range []string{"wordgraph", "prefix", "reference", "verify", "json", "max-jump", "stack-size", "heuristic", "metrics-addr"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestDecode_Translates(t *testing.T) {
	cfg := writeModels(t)
	input := writeLines(t, "la casa verde", "la gato")

	out, err := run(t, "decode", "--config", cfg, "--input", input)
	require.NoError(t, err)
	assert.Equal(t, "the green house\nthe gato\n", out)
}

func TestDecode_NBestAndJSON(t *testing.T) {
	cfg := writeModels(t)
	input := writeLines(t, "la casa")

	out, err := run(t, "decode", "--config", cfg, "--input", input, "--nbest", "3", "--stack-size", "50")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "0 ||| "), l)
		assert.Len(t, strings.Split(l, " ||| "), 3)
	}

	out, err = run(t, "decode", "--config", cfg, "--input", input, "--json")
	require.NoError(t, err)
	var res struct {
		RunID string `json:"run_id"`
		NBest []struct {
			Text string `json:"text"`
		} `json:"nbest"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.NBest, 1)
	assert.Equal(t, "the house", res.NBest[0].Text)
}

func TestDecode_PrefixAndReference(t *testing.T) {
	cfg := writeModels(t)
	input := writeLines(t, "la casa verde")

	out, err := run(t, "decode", "--config", cfg, "--input", input, "--prefix", writeLines(t, "the gre"))
	require.NoError(t, err)
	assert.Equal(t, "the green house\n", out)

	out, err = run(t, "decode", "--config", cfg, "--input", input, "--reference", writeLines(t, "the green house"))
	require.NoError(t, err)
	assert.Equal(t, "the green house\n", out)

	_, err = run(t, "decode", "--config", cfg, "--input", input, "--verify")
	assert.Error(t, err, "--verify needs references")

	_, err = run(t, "decode", "--config", cfg, "--input", input,
		"--prefix", writeLines(t, "the"), "--reference", writeLines(t, "the"))
	assert.Error(t, err)
}

func TestDecode_FailedSentence(t *testing.T) {
	cfg := writeModels(t)
	input := writeLines(t, "la casa verde", "la casa verde")
	refs := writeLines(t, "the green house", "a dog")

	out, err := run(t, "decode", "--config", cfg, "--input", input, "--reference", refs, "--verify")
	assert.EqualError(t, err, "1 of 2 sentences failed")
	assert.Equal(t, "the green house\n\n", out)
}

func TestDecode_WordGraph(t *testing.T) {
	cfg := writeModels(t)
	input := writeLines(t, "la casa verde")
	prefix := filepath.Join(t.TempDir(), "graphs", "wg")

	_, err := run(t, "decode", "--config", cfg, "--input", input, "--wordgraph", prefix, "--max-jump", "2")
	require.NoError(t, err)

	wg, err := os.ReadFile(prefix + "_0.wg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(wg), "# SOURCE SENTENCE: la casa verde"))
	idx, err := os.ReadFile(prefix + "_0.idx")
	require.NoError(t, err)
	assert.Contains(t, string(idx), "# SOURCE SENTENCE: la casa verde")
}

func TestInteractive_ReloadsDecoder(t *testing.T) {
	cfgPath := writeModels(t)
	m := config.NewManager(nil, "", cfgPath)
	m.Debounce = 20 * time.Millisecond
	require.NoError(t, m.Load())
	t.Cleanup(func() { m.Close() })

	cfg := m.Get()
	set, err := models.Build(cfg.Models, cfg.BaseDir())
	require.NoError(t, err)
	dec, err := decoder.New(cfg.Decoder, set)
	require.NoError(t, err)
	live := reloadingDecoder(m, dec, set, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var out, prompt bytes.Buffer
	w := &resultWriter{w: &out, nbest: 1}
	in := strings.NewReader("la casa verde\n\nla gato\n")
	require.NoError(t, interactive(context.Background(), live.Load, in, &prompt, w))
	assert.Equal(t, "the green house\nthe gato\n", out.String())
	assert.Equal(t, 4, strings.Count(prompt.String(), "> "))

	original, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	updated := string(original) + "decoder:\n  weights:\n    lm: 0.5\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(updated), 0o644))
	require.Eventually(t, func() bool {
		return live.Load().Weights()["lm"] == 0.5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBuildRequests(t *testing.T) {
	reqs, err := buildRequests([]string{"a", "b"}, []string{"x ", "y"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "x ", reqs[0].Prefix)
	assert.Empty(t, reqs[1].Reference)

	_, err = buildRequests([]string{"a", "b"}, nil, []string{"x"}, true)
	assert.Error(t, err)
}

func TestReadLines_KeepsTrailingBlanks(t *testing.T) {
	lines, err := readLines(strings.NewReader("the \r\nthe gre\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"the ", "the gre"}, lines)
}

// =============================================================================
// Config Command Tests
// =============================================================================

func TestConfigCmd(t *testing.T) {
	cfg := writeModels(t)

	out, err := run(t, "config", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "path: pt.txt")
	assert.Contains(t, out, "stack_size: 10")

	out, err = run(t, "config", "--config", cfg, "--json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "decoder")

	out, err = run(t, "config", "path", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, cfg)
}
