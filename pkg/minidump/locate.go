package minidump

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Signature is the minidump magic "MDMP", read big-endian.
const Signature uint32 = 0x4D444D50

const signatureLen = 4

// maxCarveDepth is a safety bound on the carve loop. A carved file starts
// with the signature by construction, so a single carve always suffices.
const maxCarveDepth = 4

type LocatorConfig struct {
	// WorkDir holds carved dumps while they are decoded. It must exist.
	WorkDir string
}

// Locator finds the minidump payload in a file, which may be wrapped in an
// unknown container, and decodes it.
type Locator struct {
	cfg     LocatorConfig
	fs      afero.Fs
	decoder Decoder
	logger  log.Logger
}

func NewLocator(logger log.Logger, fs afero.Fs, decoder Decoder, cfg LocatorConfig) *Locator {
	return &Locator{
		cfg:     cfg,
		fs:      fs,
		decoder: decoder,
		logger:  loggerOrNop(logger),
	}
}

// Locate returns the decoded text of the minidump in path. When the file
// does not start with the signature, the bytes from the first occurrence on
// are carved into a temporary file which is decoded instead and removed
// before Locate returns.
func (l *Locator) Locate(ctx context.Context, path string) (text string, err error) {
	current := path
	var carved string
	defer func() {
		if carved == "" {
			return
		}
		if rmErr := l.fs.Remove(carved); rmErr != nil {
			err = multierror.Append(err, errors.Wrap(rmErr, "remove carved dump")).ErrorOrNil()
		}
	}()

	for depth := 0; ; depth++ {
		ok, err := l.hasSignature(current)
		if err != nil {
			return "", err
		}
		if ok {
			out, err := l.decoder.Decode(ctx, current)
			if err != nil {
				return "", errors.Wrapf(err, "decode %s", current)
			}
			return string(out), nil
		}
		if depth >= maxCarveDepth {
			return "", errors.Wrapf(ErrNotADumpFile, "no signature at the start of %s after %d carves", path, depth)
		}

		next, err := l.carve(current, path)
		if err != nil {
			return "", err
		}
		if carved != "" {
			if err := l.fs.Remove(carved); err != nil {
				level.Warn(l.logger).Log("msg", "failed to remove carved dump", "path", carved, "err", err)
			}
		}
		carved, current = next, next
	}
}

func (l *Locator) hasSignature(path string) (bool, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return false, errors.Wrap(err, "open dump")
	}
	defer f.Close()

	var header [signatureLen]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, errors.Wrapf(ErrTruncatedFile, "%s", path)
		}
		return false, errors.Wrapf(err, "read header of %s", path)
	}
	return binary.BigEndian.Uint32(header[:]) == Signature, nil
}

// carve copies everything from the first signature in path onwards into a
// new temporary file and returns its name. origin names the file the caller
// asked for and is used for naming and error messages only.
func (l *Locator) carve(path, origin string) (string, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	offset := signatureOffset(data)
	if offset < 0 {
		return "", errors.Wrapf(ErrNotADumpFile, "MDMP signature not found in %s", origin)
	}

	f, err := afero.TempFile(l.fs, l.cfg.WorkDir, DumpName(origin)+"_temp-*.dmp")
	if err != nil {
		return "", errors.Wrap(err, "create carved dump")
	}
	_, err = f.Write(data[offset:])
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = l.fs.Remove(f.Name())
		return "", errors.Wrap(err, "write carved dump")
	}

	level.Debug(l.logger).Log("msg", "carved embedded minidump", "path", origin, "offset", offset, "carved", f.Name())
	return f.Name(), nil
}

// signatureOffset returns the first offset of the big-endian signature in
// data, or -1.
func signatureOffset(data []byte) int {
	var magic [signatureLen]byte
	binary.BigEndian.PutUint32(magic[:], Signature)
	return bytes.Index(data, magic[:])
}
