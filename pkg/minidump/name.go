package minidump

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DumpName derives a short, file-system friendly name from a dump path: its
// base name up to the first dot. Paths without a usable stem (".dmp") get a
// random name instead.
func DumpName(path string) string {
	base := filepath.Base(path)
	if stem, _, _ := strings.Cut(base, "."); stem != "" && stem != string(filepath.Separator) {
		return stem
	}
	return fmt.Sprintf("%s%s", uuid.NewString()[:5], time.Now().Format("20060102150405"))
}
