package symbols

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grafana/dskit/flagext"
	"github.com/samber/lo"
)

// DefaultMirrors are the public symbol servers for Electron applications, in
// priority order.
var DefaultMirrors = []string{
	"https://symbols.mozilla.org/try",
	"https://symbols.electronjs.org",
}

const (
	DefaultConcurrency = 16
	DefaultTimeout     = 2 * time.Minute
)

type Config struct {
	// Mirrors are symbol server base URLs. Every module missing from the
	// cache is tried against each of them, one full pass per mirror.
	Mirrors flagext.StringSliceCSV `yaml:"mirrors"`
	// Concurrency caps the downloads in flight during a pass.
	Concurrency int `yaml:"concurrency"`
	// Timeout bounds a single download, 0 disables it.
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond limits requests sent to each mirror, 0 disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("symbols.", f)
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	cfg.Mirrors = append(flagext.StringSliceCSV(nil), DefaultMirrors...)
	f.Var(&cfg.Mirrors, prefix+"mirrors", "Comma separated list of symbol server URLs, in priority order.")
	f.IntVar(&cfg.Concurrency, prefix+"concurrency", DefaultConcurrency, "Maximum number of symbol downloads in flight per mirror pass.")
	f.DurationVar(&cfg.Timeout, prefix+"timeout", DefaultTimeout, "Timeout of a single symbol download. 0 to disable.")
	f.Float64Var(&cfg.RequestsPerSecond, prefix+"requests-per-second", 0, "Maximum requests per second sent to a mirror. 0 to disable.")
	f.StringVar(&cfg.UserAgent, prefix+"user-agent", "", "User-Agent header sent to symbol servers.")
}

func (cfg *Config) Validate() error {
	if len(cfg.Mirrors) == 0 {
		return fmt.Errorf("at least one symbol server mirror is required")
	}
	for _, m := range cfg.Mirrors {
		u, err := url.Parse(m)
		if err != nil {
			return fmt.Errorf("invalid mirror %q: %w", m, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid mirror %q: scheme must be http or https", m)
		}
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}
	return nil
}

// mirrors returns the configured mirrors without trailing slashes and
// without repeats, keeping their order.
func (cfg *Config) mirrors() []string {
	return lo.Uniq(lo.Map(cfg.Mirrors, func(m string, _ int) string {
		return strings.TrimRight(m, "/")
	}))
}
