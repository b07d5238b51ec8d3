package pipeline

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grafana/dumpsym/pkg/minidump"
	"github.com/grafana/dumpsym/pkg/symbols"
)

type Config struct {
	// WorkDir holds carved dumps and the per-dump symbol caches. It is
	// created by New.
	WorkDir string         `yaml:"work_dir"`
	Tools   ToolsConfig    `yaml:"tools"`
	Symbols symbols.Config `yaml:"symbols"`
	// Force drops the symbol cache of a dump before fetching into it.
	Force bool `yaml:"force"`
}

// ToolsConfig names the Breakpad executables.
type ToolsConfig struct {
	MinidumpDump      string `yaml:"minidump_dump"`
	MinidumpStackwalk string `yaml:"minidump_stackwalk"`
}

func DefaultWorkDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dumpsym")
	}
	return filepath.Join(os.TempDir(), "dumpsym")
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.WorkDir, "work-dir", DefaultWorkDir(), "Directory for carved dumps and symbol caches.")
	f.StringVar(&cfg.Tools.MinidumpDump, "tools.minidump-dump", minidump.DefaultDumpTool, "Path to Breakpad's minidump_dump.")
	f.StringVar(&cfg.Tools.MinidumpStackwalk, "tools.minidump-stackwalk", minidump.DefaultStackwalkTool, "Path to Breakpad's minidump_stackwalk.")
	f.BoolVar(&cfg.Force, "force", false, "Remove the symbol cache of the dump before fetching.")
	cfg.Symbols.RegisterFlagsWithPrefix("symbols.", f)
}

func (cfg *Config) Validate() error {
	if cfg.WorkDir == "" {
		return fmt.Errorf("work directory is required")
	}
	if err := cfg.Symbols.Validate(); err != nil {
		return fmt.Errorf("invalid symbols config: %w", err)
	}
	return nil
}
