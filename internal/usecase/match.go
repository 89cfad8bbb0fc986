package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"shelfcheck/internal/adapter/analyzer"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

const minTopK = 5

// MatcherOptions configures a Matcher. Zero values fall back to defaults.
type MatcherOptions struct {
	Threshold float64
	TopK      int
	// CallTimeout bounds each index search attempt.
	CallTimeout time.Duration
	// EmbedTimeout bounds the query embedding, provider retries included.
	// Zero means CallTimeout.
	EmbedTimeout  time.Duration
	SearchRetries uint64
	RetryBase     time.Duration
}

// Matcher resolves a product name read off a shelf to a catalog entry.
type Matcher struct {
	embedder     port.Embedder
	index        port.VectorIndex
	catalog      port.CatalogStore
	threshold    float64
	topK         int
	callTimeout  time.Duration
	embedTimeout time.Duration
	retries      uint64
	retryBase    time.Duration
}

func NewMatcher(embedder port.Embedder, index port.VectorIndex, catalog port.CatalogStore, opts MatcherOptions) *Matcher {
	if opts.TopK < minTopK {
		opts.TopK = minTopK
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = opts.CallTimeout
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	return &Matcher{
		embedder:     embedder,
		index:        index,
		catalog:      catalog,
		threshold:    opts.Threshold,
		topK:         opts.TopK,
		callTimeout:  opts.CallTimeout,
		embedTimeout: opts.EmbedTimeout,
		retries:      opts.SearchRetries,
		retryBase:    opts.RetryBase,
	}
}

// Threshold is the similarity threshold used when callers have none.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match looks up item among the entries of storeID (all stores when empty).
// Failures never escape: they produce NO_MATCH with Err set.
func (m *Matcher) Match(ctx context.Context, item domain.ExtractedItem, storeID string, threshold float64) domain.MatchResult {
	result := domain.MatchResult{Item: item, StoreID: storeID, Decision: domain.NoMatch}

	name := analyzer.Normalize(item.RawName)
	if name == "" {
		result.Err = domain.InputError("match", "product name is empty")
		return result
	}

	query, err := m.embed(ctx, analyzer.MatchKey(name))
	if err != nil {
		result.Err = err
		return result
	}

	hits, err := m.search(ctx, query, storeID)
	if err != nil {
		log.Warn().Err(err).Str("store_id", storeID).Str("name", name).Msg("search failed")
		result.Err = err
		return result
	}

	candidates, err := m.resolve(ctx, hits)
	if err != nil {
		result.Err = domain.RetrievalError("resolve candidates", err)
		return result
	}
	result.Candidates = candidates

	if len(candidates) == 0 {
		return result
	}
	best := candidates[0]
	result.Similarity = best.Similarity
	if best.Similarity < threshold {
		return result
	}
	entry := best.Entry
	result.MatchedEntry = &entry
	result.Decision = domain.Matched
	return result
}

func (m *Matcher) embed(ctx context.Context, name string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, m.embedTimeout)
	defer cancel()

	vectors, err := m.embedder.Embed(ctx, []string{name})
	if err == nil && len(vectors) != 1 {
		err = errors.New("embedder returned no vector")
	}
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, domain.EmbeddingError("embed query", err)
	}
	return vectors[0], nil
}

// search queries the index with a per-attempt timeout, retrying transient
// failures with Fibonacci backoff.
func (m *Matcher) search(ctx context.Context, query []float32, storeID string) ([]port.VectorHit, error) {
	var hits []port.VectorHit
	attempt := 0
	backoff := retry.WithMaxRetries(m.retries, retry.WithCappedDuration(2*time.Second, retry.NewFibonacci(m.retryBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()

		res, err := m.index.Search(callCtx, query, storeID, m.topK)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Debug().Err(err).Int("attempt", attempt).Str("store_id", storeID).Msg("search attempt failed")
			return retry.RetryableError(err)
		}
		hits = res
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRetrieval) {
			return nil, err
		}
		return nil, domain.RetrievalError("search", err)
	}
	return hits, nil
}

// resolve loads the entries behind hits, dropping hits whose entry is gone,
// and orders them by similarity then entry ID.
func (m *Matcher) resolve(ctx context.Context, hits []port.VectorHit) ([]domain.Candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	entries, err := m.catalog.GetEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		entry, ok := entries[h.ID]
		if !ok {
			log.Warn().Str("entry_id", h.ID).Msg("vector has no catalog entry, skipping")
			continue
		}
		candidates = append(candidates, domain.Candidate{Entry: entry, Similarity: h.Similarity})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Entry.ID < candidates[j].Entry.ID
	})
	return candidates, nil
}
