package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shelfcheck/internal/adapter/embedding"
	"shelfcheck/internal/adapter/memstore"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

type testEnv struct {
	catalog  *memstore.MemoryStore
	index    *memstore.VectorIndex
	embedder *embedding.NGramEmbedder
	indexer  *IndexUseCase
	matcher  *Matcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	embedder := embedding.NewNGramEmbedder(0)
	catalog := memstore.NewMemoryStore()
	index := memstore.NewVectorIndex(embedder.Dimension())
	return &testEnv{
		catalog:  catalog,
		index:    index,
		embedder: embedder,
		indexer:  NewIndexUseCase(catalog, index, embedder, nil, 4),
		matcher:  NewMatcher(embedder, index, catalog, MatcherOptions{Threshold: 0.7, TopK: 5}),
	}
}

func (e *testEnv) mustIndex(t *testing.T, fileID string, rows ...domain.CatalogRow) *domain.IndexReport {
	t.Helper()
	report, err := e.indexer.IndexCatalog(context.Background(), rows, fileID)
	require.NoError(t, err)
	require.Zero(t, report.Failed, "row errors: %+v", report.Errors)
	return report
}

func row(name, rawPrice, store string) domain.CatalogRow {
	return domain.CatalogRow{Name: name, Price: domain.RawPrice(rawPrice), StoreID: store}
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// failingEmbedder always fails.
type failingEmbedder struct{ dim int }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, domain.EmbeddingError("embed", errors.New("provider down"))
}
func (f failingEmbedder) Dimension() int    { return f.dim }
func (f failingEmbedder) ModelName() string { return "failing" }

// flakyIndex wraps a VectorIndex and fails the first failSearches searches
// and every upsert while failUpserts is set.
type flakyIndex struct {
	port.VectorIndex

	mu           sync.Mutex
	failSearches int
	failUpserts  bool
	// writeThenFail stores the vectors before reporting the upsert as failed.
	writeThenFail bool
	failDeletes   bool
	searches      int
}

func (f *flakyIndex) Search(ctx context.Context, q []float32, storeID string, topK int) ([]port.VectorHit, error) {
	f.mu.Lock()
	f.searches++
	fail := f.searches <= f.failSearches
	f.mu.Unlock()
	if fail {
		return nil, domain.RetrievalError("search", errors.New("connection refused"))
	}
	return f.VectorIndex.Search(ctx, q, storeID, topK)
}

func (f *flakyIndex) Upsert(ctx context.Context, items []port.VectorItem) error {
	f.mu.Lock()
	fail, partial := f.failUpserts, f.writeThenFail
	f.mu.Unlock()
	if fail {
		return domain.RetrievalError("upsert", errors.New("connection refused"))
	}
	if err := f.VectorIndex.Upsert(ctx, items); err != nil {
		return err
	}
	if partial {
		return domain.RetrievalError("upsert", context.DeadlineExceeded)
	}
	return nil
}

func (f *flakyIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	fail := f.failDeletes
	f.mu.Unlock()
	if fail {
		return domain.RetrievalError("delete", errors.New("connection refused"))
	}
	return f.VectorIndex.Delete(ctx, ids)
}

func (f *flakyIndex) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

// stubIndex returns fixed hits.
type stubIndex struct {
	port.VectorIndex
	hits []port.VectorHit
}

func (s stubIndex) Search(context.Context, []float32, string, int) ([]port.VectorHit, error) {
	return s.hits, nil
}
