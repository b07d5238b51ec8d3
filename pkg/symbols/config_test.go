package symbols

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, DefaultMirrors, []string(cfg.Mirrors))
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Flags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-symbols.mirrors=https://a.example.com,https://b.example.com/",
		"-symbols.concurrency=4",
		"-symbols.requests-per-second=2.5",
	}))

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com/"}, []string(cfg.Mirrors))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.mirrors())
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
}

func TestConfig_YAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
mirrors: https://a.example.com,https://a.example.com
concurrency: 3
timeout: 30s
`), &cfg))
	assert.Equal(t, []string{"https://a.example.com"}, cfg.mirrors())
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{Mirrors: []string{"https://symbols.example.com"}, Concurrency: 1}
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	for name, mutate := range map[string]func(*Config){
		"no mirrors":       func(c *Config) { c.Mirrors = nil },
		"bad scheme":       func(c *Config) { c.Mirrors = []string{"ftp://symbols.example.com"} },
		"relative mirror":  func(c *Config) { c.Mirrors = []string{"symbols"} },
		"zero concurrency": func(c *Config) { c.Concurrency = 0 },
		"negative timeout": func(c *Config) { c.Timeout = -time.Second },
		"negative rate":    func(c *Config) { c.RequestsPerSecond = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
