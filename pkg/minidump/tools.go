package minidump

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

const (
	DefaultDumpTool      = "minidump_dump"
	DefaultStackwalkTool = "minidump_stackwalk"
)

// Decoder renders a minidump as text.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]byte, error)
}

// StackWalker symbolicates the threads of a minidump using the Breakpad
// symbol files found under searchDirs, laid out as
// <dir>/<module>/<debug id>/<module>.sym.
type StackWalker interface {
	Walk(ctx context.Context, path string, searchDirs []string) ([]byte, error)
}

type DecoderFunc func(ctx context.Context, path string) ([]byte, error)

func (f DecoderFunc) Decode(ctx context.Context, path string) ([]byte, error) { return f(ctx, path) }

type StackWalkerFunc func(ctx context.Context, path string, searchDirs []string) ([]byte, error)

func (f StackWalkerFunc) Walk(ctx context.Context, path string, searchDirs []string) ([]byte, error) {
	return f(ctx, path, searchDirs)
}

// ExecDecoder runs Breakpad's minidump_dump. It reads dumps from the host
// file system.
type ExecDecoder struct {
	Binary string
	Logger log.Logger
}

func (d *ExecDecoder) Decode(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binaryOrDefault(d.Binary, DefaultDumpTool), path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// minidump_dump exits non-zero on streams it does not understand while
	// still printing everything else, so only an empty dump is a failure.
	if stdout.Len() == 0 {
		if err == nil {
			err = errors.New("no output")
		}
		return nil, errors.Wrapf(err, "%s: %s", strings.Join(cmd.Args, " "), lastLine(stderr.String()))
	}
	if err != nil {
		level.Warn(loggerOrNop(d.Logger)).Log("msg", "minidump decoder reported an error", "path", path, "err", err)
	}
	return stdout.Bytes(), nil
}

// missingSymbolsRegexp matches the lines minidump_stackwalk logs for every
// module it could not load symbols for, e.g.
//
//	stackwalker.cc:103: INFO: Couldn't load symbols for: electron.exe.pdb|2B8E5C4D1F0A4E6C9A0B1C2D3E4F5A6B1
var missingSymbolsRegexp = regexp.MustCompile(`Couldn't load symbols for:\s+([^|]+)\|(\S+)`)

// ExecStackWalker runs Breakpad's minidump_stackwalk.
type ExecStackWalker struct {
	Binary string
	Logger log.Logger
}

func (w *ExecStackWalker) Walk(ctx context.Context, path string, searchDirs []string) ([]byte, error) {
	args := append([]string{path}, searchDirs...)
	cmd := exec.CommandContext(ctx, binaryOrDefault(w.Binary, DefaultStackwalkTool), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "%s: %s", strings.Join(cmd.Args, " "), lastLine(stderr.String()))
	}

	logger := loggerOrNop(w.Logger)
	for module, id := range MissingSymbols(stderr.String()) {
		level.Debug(logger).Log("msg", "no symbols loaded", "module", module, "debug_id", id)
	}
	return stdout.Bytes(), nil
}

// MissingSymbols extracts the modules minidump_stackwalk could not find
// symbols for from its diagnostic output, keyed by module name.
func MissingSymbols(stderr string) map[string]string {
	missing := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(stderr))
	for sc.Scan() {
		if m := missingSymbolsRegexp.FindStringSubmatch(sc.Text()); m != nil {
			missing[m[1]] = m[2]
		}
	}
	return missing
}

func binaryOrDefault(binary, def string) string {
	if binary == "" {
		return def
	}
	return binary
}

func loggerOrNop(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
