package minidump

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workDir = "/work"

var dumpPayload = []byte("MDMP\x93\xa7\x00\x00payload")

type recordingDecoder struct {
	fs     afero.Fs
	paths  []string
	inWork []string // files present in the work dir while decoding
	data   [][]byte
	err    error
}

func (d *recordingDecoder) Decode(_ context.Context, path string) ([]byte, error) {
	d.paths = append(d.paths, path)
	entries, err := afero.ReadDir(d.fs, workDir)
	if err != nil {
		return nil, err
	}
	d.inWork = d.inWork[:0]
	for _, e := range entries {
		d.inWork = append(d.inWork, e.Name())
	}
	data, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return nil, err
	}
	d.data = append(d.data, data)
	if d.err != nil {
		return nil, d.err
	}
	return []byte("decoded " + path), nil
}

func newTestLocator(t *testing.T, files map[string][]byte) (*Locator, *recordingDecoder, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(workDir, 0o755))
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, name, data, 0o644))
	}
	dec := &recordingDecoder{fs: fs}
	return NewLocator(log.NewNopLogger(), fs, dec, LocatorConfig{WorkDir: workDir}), dec, fs
}

func workDirEntries(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, workDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestLocate_DumpAtStart(t *testing.T) {
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/crash.dmp": dumpPayload})

	text, err := l.Locate(context.Background(), "/in/crash.dmp")
	require.NoError(t, err)
	assert.Equal(t, "decoded /in/crash.dmp", text)
	assert.Equal(t, []string{"/in/crash.dmp"}, dec.paths)
	assert.Empty(t, dec.inWork, "no carved file expected")
	assert.Empty(t, workDirEntries(t, fs))
}

func TestLocate_EmbeddedDump(t *testing.T) {
	wrapped := append([]byte("--boundary\r\nContent-Type: application/octet-stream\r\n\r\n"), dumpPayload...)
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/upload.bin": wrapped})

	text, err := l.Locate(context.Background(), "/in/upload.bin")
	require.NoError(t, err)

	require.Len(t, dec.paths, 1)
	assert.NotEqual(t, "/in/upload.bin", dec.paths[0])
	assert.Contains(t, dec.paths[0], "upload_temp-")
	assert.Equal(t, "decoded "+dec.paths[0], text)
	assert.Equal(t, dumpPayload, dec.data[0])
	assert.Len(t, dec.inWork, 1, "exactly one carved file while decoding")
	assert.Empty(t, workDirEntries(t, fs), "carved file must be removed")
}

func TestLocate_NestedWrappingCarvesOnce(t *testing.T) {
	inner := append([]byte("inner envelope\n"), dumpPayload...)
	outer := append([]byte("outer envelope\n"), inner...)
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/upload.bin": outer})

	_, err := l.Locate(context.Background(), "/in/upload.bin")
	require.NoError(t, err)
	require.Len(t, dec.data, 1)
	assert.Equal(t, dumpPayload, dec.data[0], "the carve starts at the first signature")
	assert.Empty(t, workDirEntries(t, fs))
}

func TestLocate_EmbeddedDumpDecodeFailure(t *testing.T) {
	wrapped := append([]byte{0, 1, 2, 3, 4, 5, 6}, dumpPayload...)
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/upload.bin": wrapped})
	dec.err = errors.New("bad stream directory")

	_, err := l.Locate(context.Background(), "/in/upload.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad stream directory")
	assert.Len(t, dec.inWork, 1)
	assert.Empty(t, workDirEntries(t, fs), "carved file must be removed on failure")
}

func TestLocate_NoSignature(t *testing.T) {
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/notes.txt": []byte("this is not a minidump at all")})

	_, err := l.Locate(context.Background(), "/in/notes.txt")
	require.ErrorIs(t, err, ErrNotADumpFile)
	assert.Empty(t, dec.paths)
	assert.Empty(t, workDirEntries(t, fs))
}

func TestLocate_Truncated(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("M"), []byte("MDM")} {
		l, dec, _ := newTestLocator(t, map[string][]byte{"/in/short.dmp": data})

		_, err := l.Locate(context.Background(), "/in/short.dmp")
		require.ErrorIs(t, err, ErrTruncatedFile)
		assert.Empty(t, dec.paths)
	}
}

func TestLocate_MissingFile(t *testing.T) {
	l, _, _ := newTestLocator(t, nil)

	_, err := l.Locate(context.Background(), "/in/missing.dmp")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotADumpFile)
}

func TestLocate_SignatureAtEnd(t *testing.T) {
	data := []byte("prefixMDMP")
	l, dec, fs := newTestLocator(t, map[string][]byte{"/in/tail.dmp": data})

	_, err := l.Locate(context.Background(), "/in/tail.dmp")
	require.NoError(t, err)
	assert.Equal(t, []byte("MDMP"), dec.data[0])
	assert.Empty(t, workDirEntries(t, fs))
}

func TestSignatureOffset(t *testing.T) {
	assert.Equal(t, 0, signatureOffset([]byte("MDMPxxxx")))
	assert.Equal(t, 3, signatureOffset([]byte("abcMDMP")))
	assert.Equal(t, -1, signatureOffset([]byte("PMDM")), "signature is matched big-endian")
	assert.Equal(t, -1, signatureOffset(nil))
}

func TestDumpName(t *testing.T) {
	assert.Equal(t, "crash", DumpName("/tmp/crash.dmp"))
	assert.Equal(t, "crash", DumpName("crash.2024.dmp"))
	assert.Equal(t, "crash", DumpName("crash"))

	fallback := DumpName("/tmp/.dmp")
	assert.NotEmpty(t, fallback)
	assert.NotContains(t, fallback, ".")
}
