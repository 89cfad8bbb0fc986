package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

var groceryRows = []domain.CatalogRow{
	row("LECHE LALA 1 LITRO", "25.50", "810"),
	row("LECHE ALPURA DESLACTOSADA 1L", "27.00", "810"),
	row("PAN BIMBO BLANCO GRANDE", "48.00", "810"),
	row("COCA COLA 600 ML", "18.00", "810"),
	row("HUEVO SAN JUAN 12 PIEZAS", "42.00", "810"),
	row("ARROZ VERDE VALLE 1 KG", "32.50", "810"),
	row("ACEITE NUTRIOLI 850 ML", "45.00", "810"),
	row("LECHE LALA 1 LITRO", "24.90", "900"),
}

func TestMatch_ShelfNameVariant(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)

	res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "  leche  lala 1l "}, "810", 0.7)
	require.Equal(t, domain.Matched, res.Decision)
	assert.Equal(t, "LECHE LALA 1 LITRO", res.MatchedEntry.CanonicalName)
	assert.Equal(t, "810", res.MatchedEntry.StoreID)
	assert.GreaterOrEqual(t, res.Similarity, 0.99)
	assert.NotEmpty(t, res.Candidates)
	assert.NoError(t, res.Err)
}

func TestMatch_SelfMatchAtHighThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)

	for _, r := range groceryRows {
		res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: r.Name}, r.StoreID, 0.99)
		require.Equal(t, domain.Matched, res.Decision, r.Name)
		assert.Equal(t, r.Name, res.MatchedEntry.CanonicalName)
		assert.Equal(t, r.StoreID, res.MatchedEntry.StoreID)
	}
}

func TestMatch_EmptyStoreIsNoMatch(t *testing.T) {
	env := newTestEnv(t)

	res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "LECHE LALA 1L"}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.Nil(t, res.MatchedEntry)
	assert.Empty(t, res.Candidates)
	assert.NoError(t, res.Err)
}

func TestMatch_StoreFilter(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "a.json", row("PAN BIMBO BLANCO GRANDE", "48", "900"))

	res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "PAN BIMBO BLANCO GRANDE"}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)

	res = env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "PAN BIMBO BLANCO GRANDE"}, "", 0.7)
	assert.Equal(t, domain.Matched, res.Decision)
}

func TestMatch_AbsentProduct(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)

	res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "DETERGENTE ARIEL 3KG"}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.Less(t, res.Similarity, 0.7)
	assert.NoError(t, res.Err)
}

func TestMatch_MonotonicInThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)

	queries := []string{
		"LECHE LALA 1L", "LECHE LALA", "LECHE ALPURA 1 LT", "PAN BIMBO", "COCA COLA 600ML",
		"COCA COLA 2L", "HUEVO SAN JUAN 18 PZ", "ARROZ 1KG", "ACEITE 1 LITRO", "JABON ZOTE",
	}
	thresholds := []float64{0, 0.2, 0.4, 0.6, 0.7, 0.8, 0.9, 0.95, 1}

	prev := map[string]bool{}
	for i, th := range thresholds {
		cur := map[string]bool{}
		for _, q := range queries {
			res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: q}, "810", th)
			if res.Decision == domain.Matched {
				cur[q] = true
			}
		}
		if i > 0 {
			for q := range cur {
				assert.True(t, prev[q], "%q matched at %.2f but not at %.2f", q, th, thresholds[i-1])
			}
		}
		if i == 0 {
			assert.Len(t, cur, len(queries), "threshold 0 accepts any candidate")
		}
		prev = cur
	}
}

func TestMatch_TieBreaksOnLowestEntryID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.catalog.PutEntries(ctx, []domain.CatalogEntry{
		{ID: "b", CanonicalName: "LECHE B", SourceFileID: "f"},
		{ID: "a", CanonicalName: "LECHE A", SourceFileID: "f"},
	}))
	idx := stubIndex{hits: []port.VectorHit{{ID: "b", Similarity: 0.9}, {ID: "ghost", Similarity: 0.95}, {ID: "a", Similarity: 0.9}}}
	m := NewMatcher(env.embedder, idx, env.catalog, MatcherOptions{Threshold: 0.7})

	res := m.Match(ctx, domain.ExtractedItem{RawName: "LECHE"}, "", 0.7)
	require.Equal(t, domain.Matched, res.Decision)
	assert.Equal(t, "a", res.MatchedEntry.ID)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "b", res.Candidates[1].Entry.ID)
}

func TestMatch_ThresholdIsInclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.catalog.PutEntries(ctx, []domain.CatalogEntry{{ID: "a", CanonicalName: "A", SourceFileID: "f"}}))
	m := NewMatcher(env.embedder, stubIndex{hits: []port.VectorHit{{ID: "a", Similarity: 0.7}}}, env.catalog, MatcherOptions{})

	assert.Equal(t, domain.Matched, m.Match(ctx, domain.ExtractedItem{RawName: "A"}, "", 0.7).Decision)
	assert.Equal(t, domain.NoMatch, m.Match(ctx, domain.ExtractedItem{RawName: "A"}, "", 0.71).Decision)
}

func TestMatch_RetriesSearch(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)
	flaky := &flakyIndex{VectorIndex: env.index, failSearches: 2}
	m := NewMatcher(env.embedder, flaky, env.catalog, MatcherOptions{SearchRetries: 2, RetryBase: time.Millisecond})

	res := m.Match(context.Background(), domain.ExtractedItem{RawName: "PAN BIMBO BLANCO GRANDE"}, "810", 0.7)
	assert.Equal(t, domain.Matched, res.Decision)
	assert.Equal(t, 3, flaky.searchCount())
}

func TestMatch_IndexUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)
	flaky := &flakyIndex{VectorIndex: env.index, failSearches: 100}
	m := NewMatcher(env.embedder, flaky, env.catalog, MatcherOptions{SearchRetries: 2, RetryBase: time.Millisecond})

	res := m.Match(context.Background(), domain.ExtractedItem{RawName: "PAN BIMBO BLANCO GRANDE"}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.Nil(t, res.MatchedEntry)
	assert.ErrorIs(t, res.Err, domain.ErrRetrieval)
	assert.Equal(t, 3, flaky.searchCount())
}

func TestMatch_EmbeddingUnavailable(t *testing.T) {
	env := newTestEnv(t)
	m := NewMatcher(failingEmbedder{dim: 384}, env.index, env.catalog, MatcherOptions{})

	res := m.Match(context.Background(), domain.ExtractedItem{RawName: "LECHE"}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.ErrorIs(t, res.Err, domain.ErrEmbeddingUnavailable)
}

func TestMatch_EmptyName(t *testing.T) {
	env := newTestEnv(t)
	res := env.matcher.Match(context.Background(), domain.ExtractedItem{RawName: "   "}, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.ErrorIs(t, res.Err, domain.ErrValidationInput)
}

func TestNewMatcher_MinimumTopK(t *testing.T) {
	env := newTestEnv(t)
	m := NewMatcher(env.embedder, env.index, env.catalog, MatcherOptions{TopK: 1})
	assert.Equal(t, 5, m.topK)
}

// recordingEmbedder keeps every text it was asked to embed.
type recordingEmbedder struct {
	port.Embedder
	mu    sync.Mutex
	texts []string
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.texts = append(r.texts, texts...)
	r.mu.Unlock()
	return r.Embedder.Embed(ctx, texts)
}

func TestMatch_CatalogAndQueryEmbedTheSameKey(t *testing.T) {
	env := newTestEnv(t)
	rec := &recordingEmbedder{Embedder: env.embedder}
	indexer := NewIndexUseCase(env.catalog, env.index, rec, nil, 4)
	m := NewMatcher(rec, env.index, env.catalog, MatcherOptions{Threshold: 0.7})
	ctx := context.Background()

	_, err := indexer.IndexCatalog(ctx, []domain.CatalogRow{row("Café Molido Legal 1 Kilo", "89", "810")}, "cafe.json")
	require.NoError(t, err)

	res := m.Match(ctx, domain.ExtractedItem{RawName: "CAFE MOLIDO LEGAL 1KG"}, "810", 0.99)
	require.Equal(t, domain.Matched, res.Decision)
	assert.Equal(t, "CAFÉ MOLIDO LEGAL 1 KILO", res.MatchedEntry.CanonicalName)
	assert.Equal(t, []string{"CAFE MOLIDO LEGAL 1 KG", "CAFE MOLIDO LEGAL 1 KG"}, rec.texts)
}

// slowEmbedder answers after delay unless ctx ends first.
type slowEmbedder struct {
	port.Embedder
	delay time.Duration
}

func (s slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-time.After(s.delay):
		return s.Embedder.Embed(ctx, texts)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestMatch_EmbedTimeoutIsSeparateFromSearchTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.mustIndex(t, "catalog.json", groceryRows...)
	slow := slowEmbedder{Embedder: env.embedder, delay: 50 * time.Millisecond}
	item := domain.ExtractedItem{RawName: "LECHE LALA 1 LITRO"}

	m := NewMatcher(slow, env.index, env.catalog, MatcherOptions{CallTimeout: 10 * time.Millisecond, EmbedTimeout: 5 * time.Second})
	res := m.Match(context.Background(), item, "810", 0.7)
	require.NoError(t, res.Err)
	assert.Equal(t, domain.Matched, res.Decision)

	m = NewMatcher(slow, env.index, env.catalog, MatcherOptions{CallTimeout: 10 * time.Millisecond})
	res = m.Match(context.Background(), item, "810", 0.7)
	assert.Equal(t, domain.NoMatch, res.Decision)
	assert.ErrorIs(t, res.Err, domain.ErrEmbeddingUnavailable)
}
