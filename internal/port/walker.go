package port

import "shelfcheck/internal/domain"

// CatalogSource finds and reads parsed catalog row files.
type CatalogSource interface {
	Walk(root string) ([]FileInfo, error)
	ReadRows(path string) ([]domain.CatalogRow, error)
}

type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Path relative to the walked root, used as the file ID
	ModTime int64
	Size    int64
}
