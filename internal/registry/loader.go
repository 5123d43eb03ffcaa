// Package registry lists the mesh, solution and surface files in a directory.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"meshd/internal/common/fsutil"
	"meshd/pkg/types"
)

// formats maps a lower-case extension to its format name.
var formats = map[string]string{
	".mesh":  "mesh",
	".meshb": "meshb",
	".sol":   "sol",
	".solb":  "solb",
	".stl":   "stl",
}

// Scanner finds mesh files in a directory. It does not recurse.
type Scanner struct {
	// Formats restricts the scan; empty means every known format.
	Formats []string
}

// NewScanner returns a Scanner for every known format.
func NewScanner() *Scanner { return &Scanner{} }

// Scan lists the matching files in dir sorted by id. A leading ~ is expanded.
func (s *Scanner) Scan(dir string) ([]types.File, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []types.File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		format, ok := formats[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok || !s.wants(format) {
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, types.File{
			ID:     e.Name(),
			Path:   filepath.Join(abs, e.Name()),
			Format: format,
			Binary: format == "meshb" || format == "solb",
			Size:   size,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (s *Scanner) wants(format string) bool {
	if len(s.Formats) == 0 {
		return true
	}
	for _, f := range s.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// LoadDir scans dir for every known format.
func LoadDir(dir string) ([]types.File, error) {
	return NewScanner().Scan(dir)
}

// Resolve returns the path of the file with the given id inside dir. Ids
// that try to leave dir are rejected.
func Resolve(dir, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid file id %q", id)
	}
	if _, ok := formats[strings.ToLower(filepath.Ext(id))]; !ok {
		return "", fmt.Errorf("file %q is not a mesh or solution file", id)
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	p := filepath.Join(base, id)
	if !fsutil.PathExists(p) {
		return "", fmt.Errorf("file %q: %w", id, os.ErrNotExist)
	}
	return filepath.Abs(p)
}
