package symbols

import (
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/grafana/dumpsym/pkg/minidump"
)

// resolvedCacheSize bounds the symbol paths a Cache remembers as present.
const resolvedCacheSize = 4096

// Cache is a directory of Breakpad symbol files laid out the way
// minidump_stackwalk searches them. Paths found present are remembered, so
// later mirror passes do not stat them again.
type Cache struct {
	fs       afero.Fs
	root     string
	resolved *lru.Cache[string, struct{}]
}

func NewCache(fs afero.Fs, root string) *Cache {
	resolved, err := lru.New[string, struct{}](resolvedCacheSize)
	if err != nil {
		panic(err)
	}
	return &Cache{fs: fs, root: root, resolved: resolved}
}

func (c *Cache) Root() string { return c.root }

func (c *Cache) Path(m minidump.Module) string {
	return SymbolPath(c.root, m)
}

// Resolved reports whether m needs no download: either its symbol file or
// the debug id directory holding it already exists. The directory is only
// created once a download completed, so its presence means an earlier run
// got there first.
func (c *Cache) Resolved(m minidump.Module) (bool, error) {
	target := c.Path(m)
	if c.resolved.Contains(target) {
		return true, nil
	}
	for _, p := range []string{target, filepath.Dir(target)} {
		ok, err := afero.Exists(c.fs, p)
		if err != nil {
			return false, errors.Wrapf(err, "stat %s", p)
		}
		if ok {
			c.resolved.Add(target, struct{}{})
			return true, nil
		}
	}
	return false, nil
}

// Store writes the symbol file of m with write. The content goes to a
// temporary file in the cache root first and is renamed into place only when
// write succeeded, so an interrupted download never leaves a truncated
// symbol file behind. Concurrent stores of the same module both succeed and
// leave one of the identical copies.
func (c *Cache) Store(m minidump.Module, write func(w io.Writer) error) (size int64, err error) {
	if err := c.fs.MkdirAll(c.root, 0o755); err != nil {
		return 0, errors.Wrap(err, "create cache directory")
	}
	tmp, err := afero.TempFile(c.fs, c.root, ".download-*")
	if err != nil {
		return 0, errors.Wrap(err, "create temporary symbol file")
	}
	defer func() {
		if err != nil {
			_ = c.fs.Remove(tmp.Name())
		}
	}()

	cw := &countingWriter{w: tmp}
	err = write(cw)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}

	target := c.Path(m)
	if err = c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, errors.Wrap(err, "create symbol directory")
	}
	if err = c.fs.Rename(tmp.Name(), target); err != nil {
		return 0, errors.Wrapf(err, "move symbol file into %s", target)
	}
	c.resolved.Add(target, struct{}{})
	return cw.n, nil
}

// Remove deletes the cache directory and everything in it.
func (c *Cache) Remove() error {
	c.resolved.Purge()
	if err := c.fs.RemoveAll(c.root); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
