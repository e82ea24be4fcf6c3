// Package cmd is the qmd command surface: thin cobra adapters over the
// retrieval, ingestion, and store APIs.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/config"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/logging"
	"github.com/uf-hy/qmdr/internal/output"
	"github.com/uf-hy/qmdr/internal/search"
	"github.com/uf-hy/qmdr/internal/store"
	"github.com/uf-hy/qmdr/internal/ui"
)

// Global flags.
var (
	flagIndex       string
	flagJSON        bool
	flagCSV         bool
	flagMD          bool
	flagXML         bool
	flagFiles       bool
	flagNum         int
	flagAll         bool
	flagMinScore    float64
	flagFull        bool
	flagLineNumbers bool
	flagCollections []string
	flagContext     string
)

var rootCmd = &cobra.Command{
	Use:           "qmd",
	Short:         "Hybrid search over local Markdown collections",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI. Errors have already been printed by cobra; the
// caller maps them to exit code 1.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagIndex, "index", config.DefaultIndexName, "named index file to use")
	pf.BoolVar(&flagJSON, "json", false, "JSON output")
	pf.BoolVar(&flagCSV, "csv", false, "CSV output")
	pf.BoolVar(&flagMD, "md", false, "Markdown output")
	pf.BoolVar(&flagXML, "xml", false, "XML output")
	pf.BoolVar(&flagFiles, "files", false, "file list output")
	pf.IntVarP(&flagNum, "num", "n", 0, "maximum number of results")
	pf.BoolVar(&flagAll, "all", false, "return all results")
	pf.Float64Var(&flagMinScore, "min-score", 0, "drop results scoring below this")
	pf.BoolVar(&flagFull, "full", false, "print full document bodies")
	pf.BoolVar(&flagLineNumbers, "line-numbers", false, "prefix output lines with numbers")
	pf.StringArrayVarP(&flagCollections, "collection", "c", nil, "restrict to collection (repeatable)")
	pf.StringVar(&flagContext, "context", "", "caller context forwarded to query expansion")
}

// outputFormat resolves the format flags.
func outputFormat() output.Format {
	return output.ParseFormat(flagJSON, flagCSV, flagMD, flagXML, flagFiles)
}

// app wires the engines together for one command invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	gw     *llm.Gateway
	engine *search.Engine
	sink   ui.Sink
}

// newApp loads config and opens the store. Machine formats keep stdout
// clean: logs and progress go to stderr.
func newApp() (*app, error) {
	cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
	if err != nil {
		return nil, err
	}
	cfg.IndexName = flagIndex

	logging.Setup("", os.Stderr)

	st, err := store.Open(cfg.IndexPath())
	if err != nil {
		return nil, err
	}

	gw, err := llm.NewGateway(cfg.GatewayConfig())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := search.NewEngine(st, gw,
		search.WithCaps(cfg.Caps),
		search.WithKnownCollections(cfg.CollectionNames()),
		search.WithContextResolver(cfg.ResolveContext),
	)

	return &app{
		cfg:    cfg,
		store:  st,
		gw:     gw,
		engine: engine,
		sink:   ui.NewSink(os.Stderr, false),
	}, nil
}

func (a *app) close() {
	a.gw.Close()
	_ = a.store.Close()
}

// queryContext applies the caller-visible timeout (QMD_TIMEOUT_MS or
// --timeout) to all outbound work in one command.
func (a *app) queryContext(parent context.Context, timeoutFlag time.Duration) (context.Context, context.CancelFunc) {
	timeout := a.cfg.Timeout()
	if timeoutFlag > 0 {
		timeout = timeoutFlag
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// searchOptions builds engine options from the global flags.
func searchOptions() search.Options {
	return search.Options{
		Limit:       flagNum,
		All:         flagAll,
		MinScore:    flagMinScore,
		Collections: flagCollections,
		Context:     flagContext,
	}
}

// emit renders results to stdout.
func emit(results []*search.Result, format output.Format) error {
	text, err := output.Render(results, format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, text)
	return err
}
