package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	dumpsymcontext "github.com/grafana/dumpsym/pkg/context"
)

var cfg struct {
	verbose     bool
	logFormat   string
	metricsDump string
	output      string
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Symbolicates Breakpad minidumps with symbol files from public symbol servers.").UsageWriter(os.Stdout)
	app.Version(version.Print("dumpsym"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("log.format", "Log format, one of logfmt or json.").Default("logfmt").EnumVar(&cfg.logFormat, "logfmt", "json")
	app.Flag("output", "How to print module lists and summaries: table, plain, or auto for a table on a terminal only.").Default(outputAuto).EnumVar(&cfg.output, outputAuto, outputTableFormat, outputPlain)
	app.Flag("metrics.dump", "Write the collected metrics in text format to this file when done, - for stderr.").Default("").StringVar(&cfg.metricsDump)

	loader := newConfigLoader()
	loader.register(app)

	walkCmd := app.Command("walk", "Symbolicate a minidump and print its stack trace.")
	walkDump := walkCmd.Arg("dump", "Path to the minidump, possibly wrapped in an upload body.").Required().ExistingFile()

	modulesCmd := app.Command("modules", "List the modules of a minidump with their debug identifiers.")
	modulesDump := modulesCmd.Arg("dump", "Path to the minidump, possibly wrapped in an upload body.").Required().ExistingFile()

	fetchCmd := app.Command("fetch", "Download the symbol files of a minidump's modules without walking the stack.")
	fetchDump := fetchCmd.Arg("dump", "Path to the minidump, possibly wrapped in an upload body.").Required().ExistingFile()

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cfg.logFormat == "json" {
		logger = log.NewJSONLogger(consoleOutput)
	}
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	reg := prometheus.NewRegistry()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = dumpsymcontext.WithLogger(ctx, logger)
	ctx = dumpsymcontext.WithRegistry(ctx, reg)
	ctx = withOutput(ctx, os.Stdout)
	ctx = withOutputTable(ctx, useTable(cfg.output, os.Stdout.Fd()))

	var err error
	switch parsedCmd {
	case walkCmd.FullCommand():
		err = walk(ctx, loader, *walkDump)
	case modulesCmd.FullCommand():
		err = listModules(ctx, loader, *modulesDump)
	case fetchCmd.FullCommand():
		err = fetch(ctx, loader, *fetchDump)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	if cfg.metricsDump != "" {
		if dumpErr := dumpMetrics(reg, cfg.metricsDump); dumpErr != nil {
			level.Warn(logger).Log("msg", "failed to dump metrics", "err", dumpErr)
		}
	}
	cancel()
	os.Exit(checkError(err))
}

func checkError(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		// Interrupted by the user.
		return 130
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}

const (
	outputAuto        = "auto"
	outputTableFormat = "table"
	outputPlain       = "plain"
)

// useTable resolves the output format for the file descriptor fd.
func useTable(format string, fd uintptr) bool {
	switch format {
	case outputTableFormat:
		return true
	case outputPlain:
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
	contextKeyOutputTable
)

func withOutputTable(ctx context.Context, table bool) context.Context {
	return context.WithValue(ctx, contextKeyOutputTable, table)
}

func outputTable(ctx context.Context) bool {
	table, _ := ctx.Value(contextKeyOutputTable).(bool)
	return table
}

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
