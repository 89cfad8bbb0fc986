package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"shelfcheck/internal/port"
)

// EmbeddingCache keeps recently computed vectors keyed by model and text.
type EmbeddingCache struct {
	cache  *ristretto.Cache
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func NewEmbeddingCache(maxSize int64, ttl time.Duration) (*EmbeddingCache, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10 * maxSize,
		MaxCost:            maxSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{cache: c, ttl: ttl}, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

func (c *EmbeddingCache) Get(model, text string) ([]float32, bool) {
	v, ok := c.cache.Get(cacheKey(model, text))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	vec := v.([]float32)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

func (c *EmbeddingCache) Put(model, text string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.SetWithTTL(cacheKey(model, text), stored, 1, c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *EmbeddingCache) Wait() {
	c.cache.Wait()
}

func (c *EmbeddingCache) Invalidate() {
	c.cache.Clear()
}

func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *EmbeddingCache) Close() {
	c.cache.Close()
}

// CachedEmbedder serves repeated texts from the cache and sends only the
// misses to the wrapped embedder, in one batch.
type CachedEmbedder struct {
	embedder port.Embedder
	cache    *EmbeddingCache
}

func NewCachedEmbedder(embedder port.Embedder, cache *EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.embedder.ModelName()
	out := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(model, text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.embedder.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Put(model, missTexts[j], vec)
	}

	return out, nil
}

func (e *CachedEmbedder) Dimension() int {
	return e.embedder.Dimension()
}

func (e *CachedEmbedder) ModelName() string {
	return e.embedder.ModelName()
}
