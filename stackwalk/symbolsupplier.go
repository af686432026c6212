package stackwalk

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

func openSymbolFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// SimpleSymbolSupplier builds a filesystem path of the shape
// <root>/<debug-file-basename>/<debug-identifier>/<debug-file-basename-
// without-.pdb>.sym, matching the symbol-store layout produced by the
// out-of-scope symbol dumpers (§4.6).
type SimpleSymbolSupplier struct {
	Root string
}

// DebugModuleInfo is the ModuleInfo extension the simple supplier
// needs: a debug file name and identifier in addition to base/name.
type DebugModuleInfo interface {
	ModuleInfo
	DebugFileName() string
	DebugIdentifier() string
}

// GetSymbolFile implements SymbolSupplier. It returns "" for a module
// that doesn't satisfy DebugModuleInfo or carries no debug file name,
// matching "no symbols available" (§4.6).
func (s *SimpleSymbolSupplier) GetSymbolFile(mod ModuleInfo) string {
	dbg, ok := mod.(DebugModuleInfo)
	if !ok {
		return ""
	}
	fileName := dbg.DebugFileName()
	if fileName == "" {
		return ""
	}
	id := dbg.DebugIdentifier()
	stripped := stripPDBExtension(fileName)
	return filepath.Join(s.Root, fileName, id, stripped+".sym")
}

// stripPDBExtension removes a trailing ".pdb" extension, matching
// case-insensitively (§4.6).
func stripPDBExtension(name string) string {
	if len(name) < 4 {
		return name
	}
	ext := name[len(name)-4:]
	if strings.EqualFold(ext, ".pdb") {
		return name[:len(name)-4]
	}
	return name
}
