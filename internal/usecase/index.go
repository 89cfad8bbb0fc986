package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shelfcheck/internal/adapter/analyzer"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

const defaultEmbedBatch = 100

// IndexUseCase loads catalog files into the catalog store and vector index.
type IndexUseCase struct {
	catalog   port.CatalogStore
	index     port.VectorIndex
	embedder  port.Embedder
	source    port.CatalogSource
	locks     *KeyedLock
	batchSize int
	now       func() time.Time
}

// NewIndexUseCase creates a new index use case. source may be nil when
// directory indexing is not needed.
func NewIndexUseCase(
	catalog port.CatalogStore,
	index port.VectorIndex,
	embedder port.Embedder,
	source port.CatalogSource,
	batchSize int,
) *IndexUseCase {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatch
	}
	return &IndexUseCase{
		catalog:   catalog,
		index:     index,
		embedder:  embedder,
		source:    source,
		locks:     NewKeyedLock(),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// IndexCatalog replaces the contents of fileID with rows. Bad rows are
// reported and skipped. Only a failure to clear the previous contents of
// the file, or cancellation, aborts the call.
func (u *IndexUseCase) IndexCatalog(ctx context.Context, rows []domain.CatalogRow, fileID string) (*domain.IndexReport, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, domain.InputError("index catalog", "file id is required")
	}

	unlock, err := u.locks.Lock(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	report := &domain.IndexReport{FileID: fileID, Errors: []domain.RowError{}}

	entries := make([]domain.CatalogEntry, 0, len(rows))
	rowOf := make(map[string]int, len(rows))
	indexedAt := u.now().UTC()
	for i, row := range rows {
		entry, err := buildEntry(row, fileID, i, indexedAt)
		if err != nil {
			report.AddError(i, "", err)
			continue
		}
		entries = append(entries, entry)
		rowOf[entry.ID] = i
	}

	if _, err := u.deleteFileLocked(ctx, fileID); err != nil {
		return nil, fmt.Errorf("failed to clear previous contents of %s: %w", fileID, err)
	}

	for i := 0; i < len(entries); i += u.batchSize {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			return report, err
		}
		end := i + u.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		u.indexBatch(ctx, entries[i:end], rowOf, report)
	}

	report.Duration = time.Since(started)
	log.Info().
		Str("file_id", fileID).
		Int("indexed", report.Indexed).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("indexed catalog file")
	return report, nil
}

// indexBatch embeds a batch, writes the catalog rows, then the vectors. If
// the vector write fails the catalog rows are rolled back, or marked
// pending when the rollback fails too.
func (u *IndexUseCase) indexBatch(ctx context.Context, batch []domain.CatalogEntry, rowOf map[string]int, report *domain.IndexReport) {
	failAll := func(err error) {
		for _, e := range batch {
			report.AddError(rowOf[e.ID], e.ID, err)
		}
	}

	texts := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = analyzer.MatchKey(e.CanonicalName)
	}
	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			err = domain.EmbeddingError("embed batch", err)
		}
		failAll(err)
		return
	}
	if len(vectors) != len(batch) {
		failAll(domain.EmbeddingError("embed batch", fmt.Errorf("got %d vectors for %d names", len(vectors), len(batch))))
		return
	}

	if err := u.catalog.PutEntries(ctx, batch); err != nil {
		failAll(fmt.Errorf("failed to store entries: %w", err))
		return
	}

	if err := u.index.Upsert(ctx, vectorItems(batch, vectors)); err != nil {
		u.rollbackBatch(ctx, report.FileID, entryIDs(batch))
		failAll(domain.ConsistencyError("upsert vectors", err))
		return
	}

	report.Indexed += len(batch)
}

// rollbackBatch undoes a batch whose vector upsert failed. A failed upsert
// may still have stored some vectors, so those go first; catalog rows are
// dropped only once no vector can reference them. Anything left behind is
// marked pending for RetryPending.
func (u *IndexUseCase) rollbackBatch(ctx context.Context, fileID string, ids []string) {
	logger := log.With().Str("file_id", fileID).Int("entries", len(ids)).Logger()

	if err := u.index.Delete(ctx, ids); err != nil {
		logger.Error().Err(err).Msg("vector rollback failed, keeping entries as pending")
	} else if err := u.catalog.DeleteEntries(ctx, ids); err != nil {
		logger.Error().Err(err).Msg("catalog rollback failed, marking entries pending")
	} else {
		return
	}
	if err := u.catalog.MarkPending(ctx, ids); err != nil {
		logger.Error().Err(err).Msg("could not mark entries pending")
	}
}

// DeleteFile removes every entry of fileID, vectors first. It returns
// ErrNotFound when the file has no entries.
func (u *IndexUseCase) DeleteFile(ctx context.Context, fileID string) (int, error) {
	unlock, err := u.locks.Lock(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	n, err := u.deleteFileLocked(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	log.Info().Str("file_id", fileID).Int("entries", n).Msg("deleted catalog file")
	return n, nil
}

func (u *IndexUseCase) deleteFileLocked(ctx context.Context, fileID string) (int, error) {
	ids, err := u.catalog.EntriesByFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := u.index.Delete(ctx, ids); err != nil {
		return 0, err
	}
	if err := u.catalog.ClearPending(ctx, ids); err != nil {
		return 0, err
	}
	if err := u.catalog.DeleteEntries(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DeleteAll removes every indexed file.
func (u *IndexUseCase) DeleteAll(ctx context.Context) (int, error) {
	files, err := u.catalog.Files(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, f := range files {
		n, err := u.DeleteFile(ctx, f)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RetryPending re-embeds and upserts entries whose vector write failed
// earlier, clearing them once their vectors are stored.
func (u *IndexUseCase) RetryPending(ctx context.Context) (*domain.IndexReport, error) {
	started := time.Now()
	report := &domain.IndexReport{FileID: "pending", Errors: []domain.RowError{}}

	pending, err := u.catalog.PendingEntries(ctx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(pending); i += u.batchSize {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			return report, err
		}
		end := i + u.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		texts := make([]string, len(batch))
		for j, e := range batch {
			texts[j] = analyzer.MatchKey(e.CanonicalName)
		}
		vectors, err := u.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("got %d vectors for %d names", len(vectors), len(batch))
		}
		if err == nil {
			err = u.index.Upsert(ctx, vectorItems(batch, vectors))
		}
		if err == nil {
			err = u.catalog.ClearPending(ctx, entryIDs(batch))
		}
		if err != nil {
			for j, e := range batch {
				report.AddError(i+j, e.ID, err)
			}
			continue
		}
		report.Indexed += len(batch)
	}

	report.Duration = time.Since(started)
	if len(pending) > 0 {
		log.Info().Int("reconciled", report.Indexed).Int("failed", report.Failed).Msg("retried pending entries")
	}
	return report, nil
}

// IndexDir indexes every row file under dir, using the file's path
// relative to dir as its file ID. onFile, if set, is called after each file.
func (u *IndexUseCase) IndexDir(ctx context.Context, dir string, onFile func(port.FileInfo, *domain.IndexReport, error)) ([]*domain.IndexReport, error) {
	if u.source == nil {
		return nil, errors.New("no catalog source configured")
	}
	files, err := u.source.Walk(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	reports := make([]*domain.IndexReport, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rows, err := u.source.ReadRows(f.Path)
		var report *domain.IndexReport
		if err == nil {
			report, err = u.IndexCatalog(ctx, rows, f.RelPath)
		}
		if err != nil {
			log.Warn().Err(err).Str("file_id", f.RelPath).Msg("could not index catalog file")
		} else {
			reports = append(reports, report)
		}
		if onFile != nil {
			onFile(f, report, err)
		}
	}
	return reports, nil
}

// ListFiles returns the IDs of indexed files.
func (u *IndexUseCase) ListFiles(ctx context.Context) ([]string, error) {
	return u.catalog.Files(ctx)
}

// Stats combines catalog counts with the vector count.
func (u *IndexUseCase) Stats(ctx context.Context) (domain.CatalogStats, error) {
	stats, err := u.catalog.Stats(ctx)
	if err != nil {
		return stats, err
	}
	n, err := u.index.Count(ctx)
	if err != nil {
		return stats, err
	}
	stats.Vectors = n
	return stats, nil
}

func buildEntry(row domain.CatalogRow, fileID string, rowIndex int, indexedAt time.Time) (domain.CatalogEntry, error) {
	name := analyzer.Normalize(row.Name)
	if name == "" {
		return domain.CatalogEntry{}, domain.InputError("row", "product name is empty")
	}
	price, err := parsePrice(row.Price)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	return domain.CatalogEntry{
		ID:            generateEntryID(fileID, rowIndex),
		CanonicalName: name,
		Price:         price,
		StoreID:       strings.TrimSpace(row.StoreID),
		Code:          strings.TrimSpace(row.Code),
		Category:      strings.TrimSpace(row.Category),
		Presentation:  strings.TrimSpace(row.Presentation),
		SourceFileID:  fileID,
		IndexedAt:     indexedAt,
	}, nil
}

var priceCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// parsePrice accepts values such as 25.5, "25.50" and "$1,250.00". An
// absent price is zero.
func parsePrice(raw domain.RawPrice) (decimal.Decimal, error) {
	s := priceCleaner.Replace(strings.TrimSpace(string(raw)))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.InputError("row", "price %q is not a number", string(raw))
	}
	if d.IsNegative() {
		return decimal.Zero, domain.InputError("row", "price %q is negative", string(raw))
	}
	return d, nil
}

// generateEntryID derives a stable entry ID from the file and row position.
func generateEntryID(fileID string, rowIndex int) string {
	hash := sha256.Sum256([]byte(fileID + "\x00" + strconv.Itoa(rowIndex)))
	return hex.EncodeToString(hash[:8])
}

func vectorItems(entries []domain.CatalogEntry, vectors [][]float32) []port.VectorItem {
	items := make([]port.VectorItem, len(entries))
	for i, e := range entries {
		items[i] = port.VectorItem{
			ID:      e.ID,
			Vector:  vectors[i],
			StoreID: e.StoreID,
			FileID:  e.SourceFileID,
		}
	}
	return items
}

func entryIDs(entries []domain.CatalogEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
