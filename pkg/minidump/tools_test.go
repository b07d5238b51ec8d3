package minidump

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script standing in for a Breakpad tool.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecDecoder(t *testing.T) {
	d := &ExecDecoder{Binary: writeScript(t, `echo "decoded $1"`)}
	out, err := d.Decode(context.Background(), "/tmp/crash.dmp")
	require.NoError(t, err)
	assert.Equal(t, "decoded /tmp/crash.dmp\n", string(out))
}

func TestExecDecoder_PartialOutput(t *testing.T) {
	d := &ExecDecoder{Binary: writeScript(t, "echo partial\nexit 1")}
	out, err := d.Decode(context.Background(), "/tmp/crash.dmp")
	require.NoError(t, err)
	assert.Equal(t, "partial\n", string(out))
}

func TestExecDecoder_NoOutput(t *testing.T) {
	d := &ExecDecoder{Binary: writeScript(t, "echo 'cannot open minidump' >&2\nexit 1")}
	_, err := d.Decode(context.Background(), "/tmp/crash.dmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open minidump")
}

func TestExecStackWalker(t *testing.T) {
	w := &ExecStackWalker{Binary: writeScript(t, `echo "walk $1 $2"
echo "stackwalker.cc:103: INFO: Couldn't load symbols for: foo.pdb|ABCDEF01" >&2`)}
	out, err := w.Walk(context.Background(), "/tmp/crash.dmp", []string{"/tmp/cache"})
	require.NoError(t, err)
	assert.Equal(t, "walk /tmp/crash.dmp /tmp/cache\n", string(out))
}

func TestWalk(t *testing.T) {
	var gotDirs []string
	trace, err := Walk(context.Background(), StackWalkerFunc(func(_ context.Context, path string, dirs []string) ([]byte, error) {
		gotDirs = dirs
		return []byte("Thread 0 (crashed)"), nil
	}), "/tmp/crash.dmp", "/tmp/cache")
	require.NoError(t, err)
	assert.Equal(t, "Thread 0 (crashed)", trace)
	assert.Equal(t, []string{"/tmp/cache"}, gotDirs)
}

func TestWalk_Error(t *testing.T) {
	engineErr := errors.New("exit status 1")
	_, err := Walk(context.Background(), StackWalkerFunc(func(context.Context, string, []string) ([]byte, error) {
		return nil, engineErr
	}), "/tmp/crash.dmp", "/tmp/cache")

	require.ErrorIs(t, err, ErrStackWalk)
	require.ErrorIs(t, err, engineErr)
	var walkErr *StackWalkError
	require.ErrorAs(t, err, &walkErr)
	assert.Equal(t, "/tmp/crash.dmp", walkErr.Path)
}

func TestMissingSymbols(t *testing.T) {
	stderr := `2024-01-05 11:05:36: stackwalker.cc:103: INFO: Couldn't load symbols for: electron.exe.pdb|2B8E5C4D1F0A4E6C9A0B1C2D3E4F5A6B1
2024-01-05 11:05:36: minidump_processor.cc:300: INFO: Processed /tmp/crash.dmp
2024-01-05 11:05:36: stackwalker.cc:103: INFO: Couldn't load symbols for: ntdll.pdb|0A1B2C3D4E5F1`
	assert.Equal(t, map[string]string{
		"electron.exe.pdb": "2B8E5C4D1F0A4E6C9A0B1C2D3E4F5A6B1",
		"ntdll.pdb":        "0A1B2C3D4E5F1",
	}, MissingSymbols(stderr))
	assert.Empty(t, MissingSymbols(""))
}
