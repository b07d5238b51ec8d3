package minidump

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotADumpFile is returned when the MDMP signature occurs nowhere in a file.
	ErrNotADumpFile = errors.New("not a minidump file")
	// ErrTruncatedFile is returned when a file is shorter than the signature.
	ErrTruncatedFile = errors.New("file too short to be a minidump")
	// ErrStackWalk matches every *StackWalkError.
	ErrStackWalk = errors.New("stack walk failed")
)

// StackWalkError wraps a failure of the stack walking engine.
type StackWalkError struct {
	Path string
	Err  error
}

func (e *StackWalkError) Error() string {
	return fmt.Sprintf("walk stack of %s: %v", e.Path, e.Err)
}

func (e *StackWalkError) Unwrap() error { return e.Err }

func (e *StackWalkError) Is(target error) bool { return target == ErrStackWalk }
