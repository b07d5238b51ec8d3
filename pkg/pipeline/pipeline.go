package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/grafana/dumpsym/pkg/minidump"
	"github.com/grafana/dumpsym/pkg/symbols"
	"github.com/grafana/dumpsym/pkg/util"
)

const (
	stageLocate  = "locate"
	stageExtract = "extract"
	stageFetch   = "fetch"
	stageWalk    = "walk"
)

// Result is what a run produced.
type Result struct {
	Trace    string
	Modules  []minidump.Module
	CacheDir string
	Stats    symbols.Stats
}

// Pipeline turns a minidump into a symbolicated stack trace: it locates and
// decodes the dump, extracts its modules, fetches their symbol files and
// walks the stack.
type Pipeline struct {
	cfg     Config
	fs      afero.Fs
	locator *minidump.Locator
	fetcher *symbols.Fetcher
	walker  minidump.StackWalker
	logger  log.Logger

	stageDuration *prometheus.HistogramVec
}

type options struct {
	fs             afero.Fs
	decoder        minidump.Decoder
	walker         minidump.StackWalker
	fetcherOptions []symbols.FetcherOption
}

type Option func(*options)

// WithFs replaces the host file system. The Breakpad tools only see the
// host file system, so this is meant to go with WithDecoder and
// WithStackWalker.
func WithFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

func WithDecoder(d minidump.Decoder) Option { return func(o *options) { o.decoder = d } }

func WithStackWalker(w minidump.StackWalker) Option { return func(o *options) { o.walker = w } }

func WithFetcherOptions(opts ...symbols.FetcherOption) Option {
	return func(o *options) { o.fetcherOptions = append(o.fetcherOptions, opts...) }
}

// New validates cfg and creates the work directory.
func New(logger log.Logger, cfg Config, reg prometheus.Registerer, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.decoder == nil {
		o.decoder = &minidump.ExecDecoder{Binary: cfg.Tools.MinidumpDump, Logger: logger}
	}
	if o.walker == nil {
		o.walker = &minidump.ExecStackWalker{Binary: cfg.Tools.MinidumpStackwalk, Logger: logger}
	}

	if err := o.fs.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	fetcher, err := symbols.NewFetcher(logger, o.fs, cfg.Symbols, symbols.NewMetrics(reg), o.fetcherOptions...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg: cfg,
		fs:  o.fs,
		locator: minidump.NewLocator(logger, o.fs, o.decoder, minidump.LocatorConfig{
			WorkDir: cfg.WorkDir,
		}),
		fetcher: fetcher,
		walker:  o.walker,
		logger:  logger,
		stageDuration: util.RegisterOrGet(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dumpsym_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage by status",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage", "status"})),
	}, nil
}

// CacheDir returns the symbol cache directory used for the dump at path.
// Dumps without a usable base name get a new random directory on every call.
func (p *Pipeline) CacheDir(path string) string {
	return filepath.Join(p.cfg.WorkDir, minidump.DumpName(path)+"_cache")
}

// Modules locates and decodes the dump at path and returns its modules.
func (p *Pipeline) Modules(ctx context.Context, path string) ([]minidump.Module, error) {
	start := time.Now()
	logger := log.With(p.logger, "dump", path)
	level.Info(logger).Log("msg", "locating minidump", "step", 1)

	var text string
	err := p.stage(stageLocate, func() (err error) {
		text, err = p.locator.Locate(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	level.Info(logger).Log("msg", "minidump decoded", "step", 2, "length", len(text), "elapsed", time.Since(start))

	extractStart := time.Now()
	modules := minidump.ExtractModules(text)
	p.observe(stageExtract, extractStart, nil)
	level.Info(logger).Log("msg", "modules extracted", "step", 3, "modules", len(modules), "elapsed", time.Since(start))
	return modules, nil
}

// Fetch runs Modules and downloads the symbol files of the modules into the
// cache directory of the dump.
func (p *Pipeline) Fetch(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	modules, err := p.Modules(ctx, path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Modules: modules, CacheDir: p.CacheDir(path)}

	if p.cfg.Force {
		if err := symbols.NewCache(p.fs, res.CacheDir).Remove(); err != nil {
			return res, fmt.Errorf("remove symbol cache: %w", err)
		}
	}
	err = p.stage(stageFetch, func() (err error) {
		res.Stats, err = p.fetcher.Fetch(ctx, res.CacheDir, modules)
		return err
	})
	if err != nil {
		return res, err
	}
	level.Info(p.logger).Log("msg", "symbols fetched", "step", 4, "dump", path, "cache_dir", res.CacheDir, "elapsed", time.Since(start))
	return res, nil
}

// Run executes the whole pipeline on the dump at path. The first failing
// step aborts it. The stack is walked on path itself, with the dump's cache
// directory as symbol search path.
func (p *Pipeline) Run(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res, err := p.Fetch(ctx, path)
	if err != nil {
		return res, err
	}

	err = p.stage(stageWalk, func() (err error) {
		res.Trace, err = minidump.Walk(ctx, p.walker, path, res.CacheDir)
		return err
	})
	if err != nil {
		return res, err
	}
	level.Info(p.logger).Log("msg", "stack walked", "step", 5, "dump", path, "length", len(res.Trace), "elapsed", time.Since(start))
	return res, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.observe(name, start, err)
	return err
}

func (p *Pipeline) observe(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.stageDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}
