package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/phrasedec/core/config"
	"github.com/adalundhe/phrasedec/core/metrics"
	"github.com/adalundhe/phrasedec/core/smt/decoder"
	"github.com/adalundhe/phrasedec/core/smt/models"
	"github.com/adalundhe/phrasedec/core/storage"
)

// =============================================================================
// Decode Command Flags
// =============================================================================

var (
	decodeInput       string
	decodeNBest       int
	decodeWordGraph   string
	decodePrefix      string
	decodeReference   string
	decodeVerify      bool
	decodeJSON        bool
	decodeMaxJump     int
	decodeStackSize   int
	decodeHeuristic   string
	decodeMetricsAddr string
)

// maxLineBytes bounds one input sentence.
const maxLineBytes = 1 << 20

// decodeCmd translates sentences.
var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Translate sentences",
	Long: `Translate one sentence per line from --input or stdin.

With --reference the decoder searches for the best way of producing each
reference line; --verify only checks that the regular translation options can
produce it. With --prefix each translation continues the given prefix line;
a prefix that does not end with a blank may end in an incomplete word.

Examples:
  phrasedec decode -c model.yaml < input.es
  phrasedec decode -c model.yaml --nbest 10 --input input.es
  phrasedec decode -c model.yaml --prefix prefixes.en --input input.es
  phrasedec decode -c model.yaml --wordgraph out/wg --input input.es`,
	Args: cobra.NoArgs,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVarP(&decodeInput, "input", "i", "", "Source sentences, one per line (default stdin)")
	decodeCmd.Flags().IntVarP(&decodeNBest, "nbest", "n", 0, "Number of translations per sentence")
	decodeCmd.Flags().StringVarP(&decodeWordGraph, "wordgraph", "w", "", "Write word graphs to <prefix>_<n>.wg and <prefix>_<n>.idx")
	decodeCmd.Flags().StringVar(&decodePrefix, "prefix", "", "Target prefixes, one per source line")
	decodeCmd.Flags().StringVar(&decodeReference, "reference", "", "Reference translations, one per source line")
	decodeCmd.Flags().BoolVar(&decodeVerify, "verify", false, "Only verify that the references can be produced")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print one JSON result per line")
	decodeCmd.Flags().IntVar(&decodeMaxJump, "max-jump", 0, "Maximum jump between consecutive phrases (0 keeps the configured value)")
	decodeCmd.Flags().IntVar(&decodeStackSize, "stack-size", 0, "Stack capacity (0 keeps the configured value)")
	decodeCmd.Flags().StringVar(&decodeHeuristic, "heuristic", "", "Heuristic (none, local_t, local_td)")
	decodeCmd.Flags().StringVar(&decodeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while decoding")
}

// =============================================================================
// Decode Execution
// =============================================================================

func runDecode(cmd *cobra.Command, _ []string) error {
	if decodePrefix != "" && decodeReference != "" {
		return errors.New("--prefix and --reference are mutually exclusive")
	}
	if decodeVerify && decodeReference == "" {
		return errors.New("--verify requires --reference")
	}

	m, err := loadConfig()
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Apply(decodeOverlay()); err != nil {
		return err
	}
	cfg := m.Get()
	logger := newLogger(cfg)

	set, err := models.Build(cfg.Models, cfg.BaseDir())
	if err != nil {
		return fmt.Errorf("build models: %w", err)
	}

	opts := []decoder.Option{decoder.WithLogger(logger)}
	if cfg.Metrics.Enabled || decodeMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, decoder.WithMetrics(metrics.New(reg, cfg.Metrics.Namespace)))
		if decodeMetricsAddr != "" {
			serveMetrics(decodeMetricsAddr, reg, logger)
		}
	}
	dec, err := decoder.New(cfg.Decoder, set, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := &resultWriter{
		w:         cmd.OutOrStdout(),
		json:      decodeJSON,
		nbest:     cfg.Decoder.NBest,
		wordGraph: wordGraphPrefix(cfg),
	}
	if decodeInput == "" && decodePrefix == "" && decodeReference == "" && stdinIsTerminal() {
		live := reloadingDecoder(m, dec, set, opts, logger)
		return interactive(ctx, live.Load, cmd.InOrStdin(), cmd.ErrOrStderr(), out)
	}
	return batch(ctx, dec, cmd.InOrStdin(), out, logger)
}

// reloadingDecoder rebuilds the decoder whenever the configuration files
// change. Models stay loaded; only decoder settings take effect.
func reloadingDecoder(m *config.Manager, dec *decoder.Decoder, set *models.Set, opts []decoder.Option, logger *slog.Logger) *atomic.Pointer[decoder.Decoder] {
	live := &atomic.Pointer[decoder.Decoder]{}
	live.Store(dec)
	m.OnChange(func(cfg *config.Config) {
		next, err := decoder.New(cfg.Decoder, set, opts...)
		if err != nil {
			logger.Warn("keeping previous decoder settings", slog.String("error", err.Error()))
			return
		}
		live.Store(next)
		logger.Info("configuration reloaded", slog.String("source", cfg.Source))
	})
	err := m.Watch(func(err error) {
		logger.Warn("configuration reload failed", slog.String("error", err.Error()))
	})
	if err != nil {
		logger.Debug("configuration not watched", slog.String("error", err.Error()))
	}
	return live
}

// decodeOverlay turns command flags into a configuration overlay.
func decodeOverlay() *config.Config {
	overlay := &config.Config{}
	overlay.Decoder.NBest = decodeNBest
	overlay.Decoder.MaxJump = decodeMaxJump
	overlay.Decoder.StackSize = decodeStackSize
	overlay.Decoder.Heuristic = decodeHeuristic
	overlay.Decoder.WordGraph.Enabled = decodeWordGraph != ""
	return overlay
}

func wordGraphPrefix(cfg *config.Config) string {
	if decodeWordGraph != "" || !cfg.Decoder.WordGraph.Enabled {
		return decodeWordGraph
	}
	return filepath.Join(storage.ResolveDirs().WordGraphDir(), "wg")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// interactive translates one line at a time until EOF, with the decoder
// current at the time each line is read.
func interactive(ctx context.Context, dec func() *decoder.Decoder, in io.Reader, prompt io.Writer, out *resultWriter) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for {
		fmt.Fprint(prompt, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(prompt)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res, err := dec().Translate(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(prompt, "error: %v\n", err)
			continue
		}
		if err := out.write(n, res); err != nil {
			return err
		}
		n++
	}
}

func batch(ctx context.Context, dec *decoder.Decoder, stdin io.Reader, out *resultWriter, logger *slog.Logger) error {
	sources, err := readInput(decodeInput, stdin)
	if err != nil {
		return err
	}
	var prefixes, references []string
	if decodePrefix != "" {
		if prefixes, err = readLinesFile(decodePrefix); err != nil {
			return err
		}
	}
	if decodeReference != "" {
		if references, err = readLinesFile(decodeReference); err != nil {
			return err
		}
	}
	requests, err := buildRequests(sources, prefixes, references, decodeVerify)
	if err != nil {
		return err
	}

	items, err := dec.BatchTranslate(ctx, requests)
	if err != nil {
		return err
	}
	failed := 0
	for i, item := range items {
		if item.Err != nil {
			failed++
			logger.Error("sentence failed", slog.Int("line", i+1), slog.String("error", item.Err.Error()))
			if err := out.writeError(i, item.Err); err != nil {
				return err
			}
			continue
		}
		if err := out.write(i, item.Result); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sentences failed", failed, len(items))
	}
	return nil
}

// buildRequests pairs every source line with its prefix or reference line.
func buildRequests(sources, prefixes, references []string, verify bool) ([]decoder.Request, error) {
	if prefixes != nil && len(prefixes) != len(sources) {
		return nil, fmt.Errorf("%d prefixes for %d sentences", len(prefixes), len(sources))
	}
	if references != nil && len(references) != len(sources) {
		return nil, fmt.Errorf("%d references for %d sentences", len(references), len(sources))
	}
	requests := make([]decoder.Request, len(sources))
	for i, src := range sources {
		requests[i] = decoder.Request{Source: src, Verify: verify}
		if prefixes != nil {
			requests[i].Prefix = prefixes[i]
		}
		if references != nil {
			requests[i].Reference = references[i]
		}
	}
	return requests, nil
}

func readInput(path string, stdin io.Reader) ([]string, error) {
	if path == "" {
		return readLines(stdin)
	}
	return readLinesFile(path)
}

func readLinesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLines(f)
}

// readLines keeps trailing blanks, which mark complete prefix words.
func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}

// =============================================================================
// Output Formatting
// =============================================================================

type resultWriter struct {
	w         io.Writer
	json      bool
	nbest     int
	wordGraph string
}

type errorOutput struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// write prints one result: the best translation, or "n ||| text ||| score"
// lines for k-best lists.
func (o *resultWriter) write(n int, res *decoder.Result) error {
	if o.wordGraph != "" && res.Graph != nil {
		if err := writeWordGraph(fmt.Sprintf("%s_%d", o.wordGraph, n), res); err != nil {
			return err
		}
	}
	if o.json {
		return json.NewEncoder(o.w).Encode(res)
	}
	if o.nbest <= 1 {
		_, err := fmt.Fprintln(o.w, res.Best().Text)
		return err
	}
	for _, t := range res.NBest {
		if _, err := fmt.Fprintf(o.w, "%d ||| %s ||| %g\n", n, t.Text, t.Score); err != nil {
			return err
		}
	}
	return nil
}

func (o *resultWriter) writeError(n int, err error) error {
	if o.json {
		return json.NewEncoder(o.w).Encode(errorOutput{Line: n + 1, Error: err.Error()})
	}
	_, werr := fmt.Fprintln(o.w)
	return werr
}

// writeWordGraph writes <base>.wg and <base>.idx.
func writeWordGraph(base string, res *decoder.Result) error {
	if err := storage.EnsureDir(filepath.Dir(base), 0); err != nil {
		return err
	}
	if err := writeFile(base+".wg", func(w io.Writer) error {
		_, err := res.Graph.WriteTo(w)
		return err
	}); err != nil {
		return err
	}
	return writeFile(base+".idx", res.WriteStateIndex)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
