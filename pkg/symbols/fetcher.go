package symbols

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/grafana/dumpsym/pkg/minidump"
)

// Stats counts what happened to the modules of a fetch, summed over all
// mirror passes.
type Stats struct {
	Downloaded    int64
	Missing       int64
	Cached        int64
	SkippedZeroID int64
	Invalid       int64
	Bytes         int64
}

func (s *Stats) add(o Stats) {
	s.Downloaded += o.Downloaded
	s.Missing += o.Missing
	s.Cached += o.Cached
	s.SkippedZeroID += o.SkippedZeroID
	s.Invalid += o.Invalid
	s.Bytes += o.Bytes
}

type passStats struct {
	downloaded, missing, cached, skippedZeroID, invalid, bytes atomic.Int64
}

func (p *passStats) snapshot() Stats {
	return Stats{
		Downloaded:    p.downloaded.Load(),
		Missing:       p.missing.Load(),
		Cached:        p.cached.Load(),
		SkippedZeroID: p.skippedZeroID.Load(),
		Invalid:       p.invalid.Load(),
		Bytes:         p.bytes.Load(),
	}
}

// Fetcher downloads Breakpad symbol files from a ranked list of mirrors into
// a cache directory.
type Fetcher struct {
	cfg     Config
	mirrors []string
	fs      afero.Fs
	client  *http.Client
	metrics *Metrics
	logger  log.Logger

	// Coalesces concurrent downloads into the same cache path.
	group singleflight.Group
}

type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client. The configured timeout
// is not applied to it.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func NewFetcher(logger log.Logger, fs afero.Fs, cfg Config, metrics *Metrics, opts ...FetcherOption) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	f := &Fetcher{
		cfg:     cfg,
		mirrors: cfg.mirrors(),
		fs:      fs,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = newHTTPClient(cfg.Timeout)
	}
	return f, nil
}

// Fetch makes sure the symbol files of modules are in cacheDir, as far as the
// mirrors have them. Mirrors are processed one full pass after the other, so
// a later mirror only sees the modules all earlier ones missed. A symbol file
// a mirror does not have is not an error. Any other download failure stops
// the fetch with a *FetchError once the downloads already running in the
// same pass are done.
func (f *Fetcher) Fetch(ctx context.Context, cacheDir string, modules []minidump.Module) (Stats, error) {
	cache := NewCache(f.fs, cacheDir)
	var stats Stats
	for _, mirror := range f.mirrors {
		pass, err := f.fetchPass(ctx, cache, mirror, modules)
		stats.add(pass)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (f *Fetcher) fetchPass(ctx context.Context, cache *Cache, mirror string, modules []minidump.Module) (Stats, error) {
	var (
		stats   passStats
		logger  = log.With(f.logger, "mirror", mirror)
		limiter *rate.Limiter
		start   = time.Now()
	)
	if f.cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.RequestsPerSecond), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	var dispatchErr error
	for _, m := range modules {
		if gctx.Err() != nil {
			break
		}
		if IsZeroDebugID(m.DebugID) {
			stats.skippedZeroID.Inc()
			f.metrics.outcomes.WithLabelValues(mirror, outcomeSkippedZeroID).Inc()
			continue
		}
		if err := validModule(m); err != nil {
			stats.invalid.Inc()
			f.metrics.outcomes.WithLabelValues(mirror, outcomeInvalid).Inc()
			level.Warn(logger).Log("msg", "skipping module", "err", err)
			continue
		}
		resolved, err := cache.Resolved(m)
		if err != nil {
			dispatchErr = err
			break
		}
		if resolved {
			stats.cached.Inc()
			f.metrics.outcomes.WithLabelValues(mirror, outcomeCached).Inc()
			continue
		}

		g.Go(func() error {
			// Downloads that have not started when another one failed are
			// dropped. Those already running use ctx and finish.
			if gctx.Err() != nil {
				return ctx.Err()
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			outcome, size, err := f.fetchModule(ctx, cache, mirror, m)
			f.metrics.outcomes.WithLabelValues(mirror, outcome).Inc()
			switch outcome {
			case outcomeDownloaded:
				stats.downloaded.Inc()
				stats.bytes.Add(size)
				level.Debug(logger).Log("msg", "downloaded symbol file", "module", m.Name, "debug_id", m.DebugID, "size", humanize.IBytes(uint64(size)))
			case outcomeMissing:
				stats.missing.Inc()
				level.Debug(logger).Log("msg", "symbol file not on mirror", "module", m.Name, "debug_id", m.DebugID)
			case outcomeCached:
				stats.cached.Inc()
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		err = dispatchErr
	}
	if err == nil {
		err = ctx.Err()
	}
	s := stats.snapshot()
	level.Info(logger).Log(
		"msg", "symbol pass finished",
		"downloaded", s.Downloaded,
		"missing", s.Missing,
		"cached", s.Cached,
		"skipped", s.SkippedZeroID+s.Invalid,
		"size", humanize.IBytes(uint64(s.Bytes)),
		"elapsed", time.Since(start),
	)
	return s, err
}

// fetchModule downloads the symbol file of m from mirror unless it is in the
// cache by now. Callers that join a download started by another one report
// the module as cached.
func (f *Fetcher) fetchModule(ctx context.Context, cache *Cache, mirror string, m minidump.Module) (string, int64, error) {
	type result struct {
		outcome string
		size    int64
	}
	var owner bool
	v, err, _ := f.group.Do(cache.Path(m), func() (interface{}, error) {
		owner = true
		resolved, err := cache.Resolved(m)
		if err != nil {
			return result{outcome: outcomeError}, err
		}
		if resolved {
			return result{outcome: outcomeCached}, nil
		}
		outcome, size, err := f.download(ctx, cache, mirror, m)
		return result{outcome: outcome, size: size}, err
	})
	r := v.(result)
	if !owner && r.outcome == outcomeDownloaded {
		return outcomeCached, 0, nil
	}
	return r.outcome, r.size, err
}

func (f *Fetcher) download(ctx context.Context, cache *Cache, mirror string, m minidump.Module) (string, int64, error) {
	url := SymbolURL(mirror, m)
	start := time.Now()
	status := statusSuccess
	defer func() {
		f.metrics.requestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	body, err := f.get(ctx, url)
	if err != nil {
		status = requestStatus(err)
		if statusCode, ok := isHTTPStatusError(err); ok && isMiss(statusCode) {
			return outcomeMissing, 0, nil
		}
		return outcomeError, 0, &FetchError{Mirror: mirror, Module: m, URL: url, Err: err}
	}
	defer body.Close()

	size, err := cache.Store(m, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	})
	if err != nil {
		status = requestStatus(err)
		return outcomeError, 0, &FetchError{Mirror: mirror, Module: m, URL: url, Err: err}
	}
	f.metrics.fileSize.Observe(float64(size))
	return outcomeDownloaded, size, nil
}
