package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	dumpsymcontext "github.com/grafana/dumpsym/pkg/context"
	"github.com/grafana/dumpsym/pkg/minidump"
	"github.com/grafana/dumpsym/pkg/pipeline"
)

func newPipeline(ctx context.Context, loader *configLoader) (*pipeline.Pipeline, error) {
	cfg, err := loader.load()
	if err != nil {
		return nil, err
	}
	return pipeline.New(dumpsymcontext.Logger(ctx), cfg, dumpsymcontext.Registry(ctx))
}

func walk(ctx context.Context, loader *configLoader, dump string) error {
	ctx = dumpsymcontext.WithDump(ctx, dump)
	p, err := newPipeline(ctx, loader)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx, dump)
	if err != nil {
		return err
	}
	_, err = io.WriteString(output(ctx), res.Trace)
	return err
}

func listModules(ctx context.Context, loader *configLoader, dump string) error {
	ctx = dumpsymcontext.WithDump(ctx, dump)
	p, err := newPipeline(ctx, loader)
	if err != nil {
		return err
	}
	modules, err := p.Modules(ctx, dump)
	if err != nil {
		return err
	}
	return writeModules(output(ctx), modules, outputTable(ctx))
}

// writeModules prints one module per line as "name debug_id", or a table.
func writeModules(w io.Writer, modules []minidump.Module, table bool) error {
	if !table {
		for _, m := range modules {
			if _, err := fmt.Fprintf(w, "%s %s\n", m.Name, m.DebugID); err != nil {
				return err
			}
		}
		return nil
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Module", "Debug ID"})
	for _, m := range modules {
		t.Append([]string{m.Name, m.DebugID})
	}
	t.Render()
	return nil
}

func fetch(ctx context.Context, loader *configLoader, dump string) error {
	ctx = dumpsymcontext.WithDump(ctx, dump)
	p, err := newPipeline(ctx, loader)
	if err != nil {
		return err
	}
	res, err := p.Fetch(ctx, dump)
	if err != nil {
		return err
	}
	return writeFetchSummary(output(ctx), res, outputTable(ctx))
}

// writeFetchSummary prints the outcome of a fetch as "key value" lines, or
// a table. Misses are counted per mirror pass.
func writeFetchSummary(w io.Writer, res pipeline.Result, table bool) error {
	rows := [][]string{
		{"cache", res.CacheDir},
		{"modules", strconv.Itoa(len(res.Modules))},
		{"downloaded", strconv.FormatInt(res.Stats.Downloaded, 10)},
		{"size", humanize.IBytes(uint64(res.Stats.Bytes))},
		{"cached", strconv.FormatInt(res.Stats.Cached, 10)},
		{"misses", strconv.FormatInt(res.Stats.Missing, 10)},
		{"skipped", strconv.FormatInt(res.Stats.SkippedZeroID+res.Stats.Invalid, 10)},
	}
	if !table {
		for _, r := range rows {
			if _, err := fmt.Fprintf(w, "%s %s\n", r[0], r[1]); err != nil {
				return err
			}
		}
		return nil
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Symbols", "Value"})
	t.AppendBulk(rows)
	t.Render()
	return nil
}

// dumpMetrics writes everything gathered from g to path, or to stderr when
// path is "-".
func dumpMetrics(g prometheus.Gatherer, path string) (err error) {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}

	w := io.Writer(os.Stderr)
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}()
		w = f
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
