package symbols

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/grafana/dumpsym/pkg/minidump"
)

// ErrSymbolFetch matches every *FetchError.
var ErrSymbolFetch = errors.New("symbol fetch failed")

// FetchError is a download failure other than the symbol file not being on
// the mirror. It aborts the fetch.
type FetchError struct {
	Mirror string
	Module minidump.Module
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to download %s (module %s, debug id %s): %v", e.URL, e.Module.Name, e.Module.DebugID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrSymbolFetch }

type httpStatusError struct {
	statusCode int
	body       string
}

func (e httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected HTTP status: %d %s", e.statusCode, http.StatusText(e.statusCode))
	}
	return fmt.Sprintf("unexpected HTTP status: %d %s: %s", e.statusCode, http.StatusText(e.statusCode), e.body)
}

func isHTTPStatusError(err error) (int, bool) {
	var httpErr httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode, true
	}
	return 0, false
}

// isMiss reports whether a response status means the mirror cannot serve the
// file. Any error status counts: object stores behind symbol servers answer
// 403 for missing keys, and a mirror failing with 5xx or 429 leaves the module
// to the next mirror.
func isMiss(statusCode int) bool {
	return statusCode >= http.StatusBadRequest
}
