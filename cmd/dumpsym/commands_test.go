package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/dumpsym/pkg/minidump"
	"github.com/grafana/dumpsym/pkg/pipeline"
	"github.com/grafana/dumpsym/pkg/symbols"
)

var testModules = []minidump.Module{
	{Name: "electron.exe.pdb", DebugID: "2B8E5C4D1"},
	{Name: "libGLESv2.dll.pdb", DebugID: "77AB"},
}

func TestWriteModules(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeModules(&buf, testModules, false))
	assert.Equal(t, "electron.exe.pdb 2B8E5C4D1\nlibGLESv2.dll.pdb 77AB\n", buf.String())

	buf.Reset()
	require.NoError(t, writeModules(&buf, testModules, true))
	assert.Contains(t, buf.String(), "DEBUG ID")
	assert.Contains(t, buf.String(), "| electron.exe.pdb")
	assert.Contains(t, buf.String(), "| 77AB")
}

func TestWriteFetchSummary(t *testing.T) {
	res := pipeline.Result{
		CacheDir: "/work/crash_cache",
		Modules:  testModules,
		Stats:    symbols.Stats{Downloaded: 1, Bytes: 2048, Cached: 1, Missing: 1, SkippedZeroID: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, writeFetchSummary(&buf, res, false))
	assert.Equal(t, `cache /work/crash_cache
modules 2
downloaded 1
size 2.0 KiB
cached 1
misses 1
skipped 2
`, buf.String())

	buf.Reset()
	require.NoError(t, writeFetchSummary(&buf, res, true))
	assert.Contains(t, buf.String(), "SYMBOLS")
	assert.Contains(t, buf.String(), "/work/crash_cache")
}

func TestUseTable(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})

	assert.True(t, useTable(outputTableFormat, w.Fd()))
	assert.False(t, useTable(outputPlain, w.Fd()))
	assert.False(t, useTable(outputAuto, w.Fd()), "a pipe is not a terminal")
}
