package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfcheck/config"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

func openTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testEntry(id, file, store string) domain.CatalogEntry {
	return domain.CatalogEntry{
		ID:            id,
		CanonicalName: "PRODUCT " + id,
		Price:         decimal.RequireFromString("25.50"),
		StoreID:       store,
		SourceFileID:  file,
	}
}

func TestBoltStore_PutGetEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{testEntry("a", "prices.json", "810"), testEntry("b", "prices.json", "810")}))

	got, err := s.GetEntries(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "PRODUCT a", got["a"].CanonicalName)
	assert.True(t, decimal.RequireFromString("25.5").Equal(got["a"].Price))
	assert.Equal(t, "810", got["b"].StoreID)
}

func TestBoltStore_EntriesByFileIsPrefixSafe(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{
		testEntry("1", "store", ""),
		testEntry("2", "store-b", ""),
		testEntry("3", "store", ""),
	}))

	ids, err := s.EntriesByFile(ctx, "store")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)

	files, err := s.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "store-b"}, files)
}

func TestBoltStore_DeleteEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{testEntry("a", "f", ""), testEntry("b", "f", "")}))
	require.NoError(t, s.MarkPending(ctx, []string{"a"}))

	require.NoError(t, s.DeleteEntries(ctx, []string{"a", "nope"}))

	ids, _ := s.EntriesByFile(ctx, "f")
	assert.Equal(t, []string{"b"}, ids)
	pending, _ := s.PendingEntries(ctx)
	assert.Empty(t, pending)
}

func TestBoltStore_PendingAndStats(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{testEntry("a", "f1", "810"), testEntry("b", "f2", "900"), testEntry("c", "f2", "900")}))

	require.NoError(t, s.MarkPending(ctx, []string{"b", "ghost"}))
	pending, err := s.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, map[string]int{"810": 1, "900": 2}, stats.ByStore)

	require.NoError(t, s.ClearPending(ctx, []string{"b"}))
	stats, _ = s.Stats(ctx)
	assert.Equal(t, 0, stats.Pending)
}

func TestBoltStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{testEntry("a", "f", "810")}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetEntries(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "f", got["a"].SourceFileID)
}

func TestMigrations(t *testing.T) {
	s, _ := openTestStore(t)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	require.NoError(t, s.Migrate(cfg))
	result, err = s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	changed := config.DefaultConfig()
	changed.Embedding.Provider = config.ProviderOpenAI
	rebuild, reason, err := s.NeedsRebuild(changed)
	require.NoError(t, err)
	assert.True(t, rebuild)
	assert.NotEmpty(t, reason)
}

func TestComputeConfigHash(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	assert.Equal(t, ComputeConfigHash(a), ComputeConfigHash(b))

	// The ngram embedder ignores the remote model name.
	b.Embedding.Model = "something-else"
	assert.Equal(t, ComputeConfigHash(a), ComputeConfigHash(b))

	b.Embedding.Dimension = 128
	assert.NotEqual(t, ComputeConfigHash(a), ComputeConfigHash(b))

	// Tuning knobs do not invalidate vectors.
	c := config.DefaultConfig()
	c.Matching.SimilarityThreshold = 0.9
	assert.Equal(t, ComputeConfigHash(a), ComputeConfigHash(c))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.Migrate(config.DefaultConfig()))
	require.NoError(t, s.PutEntries(ctx, []domain.CatalogEntry{testEntry("a", "f", "")}))

	require.NoError(t, s.Clear())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
	info, err := s.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)
}

func TestBoltVectorIndex_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	x, err := NewBoltVectorIndex(s.DB(), 2)
	require.NoError(t, err)

	require.NoError(t, x.Upsert(ctx, []port.VectorItem{
		{ID: "a", Vector: []float32{1, 0}, StoreID: "810", FileID: "f"},
		{ID: "b", Vector: []float32{0, 1}, StoreID: "810", FileID: "f"},
		{ID: "c", Vector: []float32{1, 0}, StoreID: "900", FileID: "g"},
	}))

	hits, err := x.Search(ctx, []float32{1, 0}, "810", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, 0.0, hits[1].Similarity)

	require.NoError(t, x.Delete(ctx, []string{"a", "unknown"}))
	hits, err = x.Search(ctx, []float32{1, 0}, "810", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	n, err := x.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBoltVectorIndex_ReloadKeepsOrderAndDropsStale(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	x, err := NewBoltVectorIndex(s.DB(), 2)
	require.NoError(t, err)
	for _, id := range []string{"z", "y", "x"} {
		require.NoError(t, x.Upsert(ctx, []port.VectorItem{{ID: id, Vector: []float32{1, 1}}}))
	}
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	x, err = NewBoltVectorIndex(s.DB(), 2)
	require.NoError(t, err)

	hits, err := x.Search(ctx, []float32{1, 1}, "", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"z", "y", "x"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})

	// Reopening with another dimension drops the old vectors.
	x3, err := NewBoltVectorIndex(s.DB(), 3)
	require.NoError(t, err)
	n, _ := x3.Count(ctx)
	assert.Equal(t, 0, n)
}

func TestBoltVectorIndex_DimensionMismatch(t *testing.T) {
	s, _ := openTestStore(t)
	x, err := NewBoltVectorIndex(s.DB(), 2)
	require.NoError(t, err)

	err = x.Upsert(context.Background(), []port.VectorItem{{ID: "a", Vector: []float32{1, 2, 3}}})
	assert.Error(t, err)
}
