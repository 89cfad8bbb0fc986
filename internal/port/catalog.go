package port

import (
	"context"

	"shelfcheck/internal/domain"
)

// CatalogStore is the source of truth for catalog entries.
type CatalogStore interface {
	PutEntries(ctx context.Context, entries []domain.CatalogEntry) error

	// GetEntries returns the entries that exist; missing IDs are absent from the map.
	GetEntries(ctx context.Context, ids []string) (map[string]domain.CatalogEntry, error)

	EntriesByFile(ctx context.Context, fileID string) ([]string, error)

	DeleteEntries(ctx context.Context, ids []string) error

	// MarkPending records entries whose vectors could not be written.
	MarkPending(ctx context.Context, ids []string) error

	PendingEntries(ctx context.Context) ([]domain.CatalogEntry, error)

	ClearPending(ctx context.Context, ids []string) error

	Files(ctx context.Context) ([]string, error)

	Stats(ctx context.Context) (domain.CatalogStats, error)

	Close() error
}
