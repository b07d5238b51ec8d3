package symbols

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/grafana/regexp"

	"github.com/grafana/dumpsym/pkg/minidump"
)

const (
	pdbExt = ".pdb"
	symExt = ".sym"
)

var zeroDebugID = regexp.MustCompile(`^0+$`)

// SymbolFileName returns the Breakpad symbol file name of a module: a
// trailing ".pdb" is replaced by ".sym", anything else gets ".sym" appended.
func SymbolFileName(module string) string {
	return strings.TrimSuffix(module, pdbExt) + symExt
}

// IsZeroDebugID reports whether id is all zeros. Such modules carry no
// usable build identity and are never fetched.
func IsZeroDebugID(id string) bool {
	return zeroDebugID.MatchString(id)
}

// SymbolPath returns where the symbol file of m lives under root:
// <root>/<module>/<debug id>/<symbol file>.
func SymbolPath(root string, m minidump.Module) string {
	return filepath.Join(root, m.Name, m.DebugID, SymbolFileName(m.Name))
}

// SymbolURL returns the URL of the symbol file of m on a mirror.
func SymbolURL(mirror string, m minidump.Module) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(mirror, "/"),
		url.PathEscape(m.Name),
		m.DebugID,
		url.PathEscape(SymbolFileName(m.Name)),
	)
}

var validDebugID = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// validModule rejects modules whose name or id would escape their cache
// directory or the mirror path.
func validModule(m minidump.Module) error {
	switch {
	case m.Name == "" || m.Name == "." || m.Name == "..":
		return fmt.Errorf("invalid module name %q", m.Name)
	case strings.ContainsAny(m.Name, `/\`):
		return fmt.Errorf("module name %q must not contain path separators", m.Name)
	case !validDebugID.MatchString(m.DebugID):
		return fmt.Errorf("invalid debug identifier %q for module %s", m.DebugID, m.Name)
	}
	return nil
}
