package fs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

// Walker finds catalog row files under a directory and decodes them.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*.json"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns matching files sorted by relative path. RelPath uses forward
// slashes so file IDs are the same on every platform.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []port.FileInfo{{
			Path:    root,
			RelPath: filepath.Base(root),
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		}}, nil
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, port.FileInfo{
				Path:    path,
				RelPath: relPath,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// rowFile is the object form of a row file. Its store_id applies to rows
// that carry none.
type rowFile struct {
	StoreID string              `json:"store_id"`
	Rows    []domain.CatalogRow `json:"rows"`
}

// ReadRows decodes a row file: either a JSON array of rows or an object
// {"store_id": ..., "rows": [...]}.
func (w *Walker) ReadRows(path string) ([]domain.CatalogRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRows(data)
}

func DecodeRows(data []byte) ([]domain.CatalogRow, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, domain.InputError("decode rows", "empty row file")
	}

	if data[0] == '[' {
		var rows []domain.CatalogRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, domain.InputError("decode rows", "%v", err)
		}
		return rows, nil
	}

	var f rowFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domain.InputError("decode rows", "%v", err)
	}
	if f.Rows == nil {
		return nil, domain.InputError("decode rows", "object has no %q field", "rows")
	}
	for i := range f.Rows {
		if f.Rows[i].StoreID == "" {
			f.Rows[i].StoreID = f.StoreID
		}
	}
	return f.Rows, nil
}

var _ port.CatalogSource = (*Walker)(nil)
