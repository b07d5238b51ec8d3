package minidump

import (
	"context"
)

// Walk runs w over the dump at path with cacheDir as the only symbol search
// directory and returns the symbolicated trace.
func Walk(ctx context.Context, w StackWalker, path, cacheDir string) (string, error) {
	out, err := w.Walk(ctx, path, []string{cacheDir})
	if err != nil {
		return "", &StackWalkError{Path: path, Err: err}
	}
	return string(out), nil
}
