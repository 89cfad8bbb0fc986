package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfcheck/config"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/usecase"
)

func writeCatalog(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "catalogs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalogs", "lala.json"), []byte(`{"store_id":"810","rows":[
		{"name":"LECHE LALA 1 LITRO","price":25.50},
		{"name":"PAN BIMBO BLANCO GRANDE","price":"$48.00"}
	]}`), 0644))
}

func TestApp_BoltBackendPersists(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir)
	cfg := config.DefaultConfig()
	ctx := context.Background()

	a, err := newApp(ctx, cfg, dir, appOptions{})
	require.NoError(t, err)
	reports, err := a.indexer.IndexDir(ctx, filepath.Join(dir, "catalogs"), nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Indexed)
	a.Close()

	// Reopen: entries and vectors come back from disk.
	a, err = newApp(ctx, cfg, dir, appOptions{})
	require.NoError(t, err)
	defer a.Close()

	stats, err := a.indexer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Vectors)

	resp, err := a.validator.Validate(ctx, usecase.ValidateRequest{
		StoreID: "810",
		Items:   []domain.ExtractedItem{{RawName: "LECHE LALA 1L", ObservedPrice: nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Matched, resp.Verdicts[0].Match.Decision)
	assert.Equal(t, domain.PriceUnknown, resp.Verdicts[0].PriceStatus)
}

func TestApp_ConfigChangeRequiresRebuild(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir)
	ctx := context.Background()

	cfg := config.DefaultConfig()
	a, err := newApp(ctx, cfg, dir, appOptions{})
	require.NoError(t, err)
	_, err = a.indexer.IndexDir(ctx, filepath.Join(dir, "catalogs"), nil)
	require.NoError(t, err)
	a.Close()

	changed := config.DefaultConfig()
	changed.Embedding.Dimension = 128
	_, err = newApp(ctx, changed, dir, appOptions{})
	assert.ErrorContains(t, err, "rebuild required")

	a, err = newApp(ctx, changed, dir, appOptions{rebuild: true})
	require.NoError(t, err)
	defer a.Close()
	stats, err := a.indexer.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.Vectors)
}

func TestApp_MemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Index.Backend = config.BackendMemory
	cfg.Embedding.CacheSize = 0

	a, err := newApp(context.Background(), cfg, t.TempDir(), appOptions{})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.bolt)
	assert.Nil(t, a.cache)
}

func TestReadValidateRequest(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(arr, []byte(`[{"raw_name":"LECHE LALA 1L","observed_price":25.5}]`), 0644))
	req, err := readValidateRequest(arr)
	require.NoError(t, err)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "25.5", req.Items[0].ObservedPrice.String())

	obj := filepath.Join(dir, "req.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"store_id":"810","threshold":0.8,"items":[{"raw_name":"PAN"}]}`), 0644))
	req, err = readValidateRequest(obj)
	require.NoError(t, err)
	assert.Equal(t, "810", req.StoreID)
	require.NotNil(t, req.Threshold)
	assert.Nil(t, req.Items[0].ObservedPrice)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0644))
	_, err = readValidateRequest(bad)
	assert.ErrorIs(t, err, domain.ErrValidationInput)
}
