package minidump

import (
	"github.com/grafana/regexp"
)

// Module is a binary referenced by a minidump.
type Module struct {
	// Name is the base name of the module's debug file, e.g. "electron.exe.pdb".
	Name string
	// DebugID identifies the build of the module, in uppercase hex.
	DebugID string
}

// moduleRegexp matches the debug file / debug identifier pair that
// minidump_dump prints for every MDRawModule:
//
//	(debug_file)                    = "C:\projects\src\out\Default\electron.exe.pdb"
//	(debug_identifier)              = "2B8E5C4D1F0A4E6C9A0B1C2D3E4F5A6B1"
//
// Only the last path segment of the debug file is captured.
var moduleRegexp = regexp.MustCompile(`\(debug_file\)\s*=\s*"(?:[^"\n]*[/\\])?([^"\n]+)"\s+\(debug_identifier\)\s*=\s*"([0-9A-F]+)"`)

// ExtractModules returns every module listed in the output of minidump_dump,
// in order of appearance. Duplicates are kept.
func ExtractModules(text string) []Module {
	matches := moduleRegexp.FindAllStringSubmatch(text, -1)
	modules := make([]Module, 0, len(matches))
	for _, m := range matches {
		modules = append(modules, Module{Name: m[1], DebugID: m[2]})
	}
	return modules
}
