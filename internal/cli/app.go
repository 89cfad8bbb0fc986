package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"shelfcheck/config"
	"shelfcheck/internal/adapter/cache"
	"shelfcheck/internal/adapter/embedding"
	"shelfcheck/internal/adapter/fs"
	"shelfcheck/internal/adapter/memstore"
	"shelfcheck/internal/adapter/qdrantstore"
	"shelfcheck/internal/adapter/store"
	"shelfcheck/internal/port"
	"shelfcheck/internal/usecase"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	bolt      *store.BoltStore
	catalog   port.CatalogStore
	index     port.VectorIndex
	embedder  port.Embedder
	cache     *cache.EmbeddingCache
	source    port.CatalogSource
	indexer   *usecase.IndexUseCase
	matcher   *usecase.Matcher
	validator *usecase.ValidateUseCase
	closers   []func() error
}

type appOptions struct {
	// rebuild clears an index whose embedding settings changed instead of
	// refusing to open it.
	rebuild bool
}

func newApp(ctx context.Context, cfg *config.Config, dir string, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder
	if cfg.Embedding.CacheSize > 0 {
		c, err := cache.NewEmbeddingCache(cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		a.cache = c
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		a.embedder = cache.NewCachedEmbedder(embedder, c)
	}

	rebuild := false
	switch cfg.Index.Backend {
	case config.BackendMemory:
		a.catalog = memstore.NewMemoryStore()
		a.index = memstore.NewVectorIndex(a.embedder.Dimension())
		log.Warn().Msg("using the in-memory index; catalog data is lost on exit")
	default:
		if err := config.EnsureDataDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := store.NewBoltStore(cfg.IndexDBPath(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog store: %w", err)
		}
		a.bolt = st
		a.catalog = st
		a.closers = append(a.closers, st.Close)

		migration, err := st.CheckMigration(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to check migration: %w", err)
		}
		switch {
		case migration.NeedsRebuild && !opts.rebuild:
			return nil, fmt.Errorf("index rebuild required (%s): run 'shelfcheck index --force'", migration.Reason)
		case migration.NeedsRebuild:
			rebuild = true
		case migration.NeedsMigration:
			log.Info().Str("reason", migration.Reason).Msg("running schema migration")
			if err := st.Migrate(cfg); err != nil {
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}

		index, err := newVectorIndex(ctx, cfg, st, a.embedder.Dimension())
		if err != nil {
			return nil, err
		}
		a.index = index
		if c, ok := index.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	a.source = fs.NewWalker(cfg.Catalog.Includes, cfg.Catalog.Excludes)
	a.indexer = usecase.NewIndexUseCase(a.catalog, a.index, a.embedder, a.source, cfg.Embedding.BatchSize)
	a.matcher = usecase.NewMatcher(a.embedder, a.index, a.catalog, usecase.MatcherOptions{
		Threshold:     cfg.Matching.SimilarityThreshold,
		TopK:          cfg.EffectiveTopK(),
		CallTimeout:   cfg.Index.Timeout,
		EmbedTimeout:  cfg.EmbedDeadline(),
		SearchRetries: uint64(cfg.Matching.SearchRetries),
	})
	a.validator = usecase.NewValidateUseCase(
		a.matcher,
		usecase.NewPricePolicy(cfg.Validation.PriceTolerance, cfg.Validation.ZeroPriceEpsilon),
		cfg.Validation.MaxItems,
		cfg.Validation.Workers,
	)

	if rebuild || opts.rebuild {
		if err := a.rebuild(ctx); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderNGram:
		return embedding.NewNGramEmbedder(cfg.Embedding.Dimension), nil
	case config.ProviderOpenAI:
		e, err := embedding.NewOpenAICompatibleEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL, embedding.Options{
			Timeout:           cfg.Embedding.Timeout,
			MaxRetries:        uint64(cfg.Embedding.MaxRetries),
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Dimension:         cfg.Embedding.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func newVectorIndex(ctx context.Context, cfg *config.Config, st *store.BoltStore, dimension int) (port.VectorIndex, error) {
	switch cfg.Index.Backend {
	case config.BackendQdrant:
		client, err := qdrantstore.Dial(cfg.Index.Qdrant)
		if err != nil {
			return nil, err
		}
		idx := qdrantstore.New(client, cfg.Index.Qdrant.Collection, dimension, cfg.Index.Qdrant.BatchSize, cfg.Index.Timeout)
		if err := idx.EnsureCollection(ctx); err != nil {
			idx.Close()
			return nil, err
		}
		return idx, nil
	default:
		idx, err := store.NewBoltVectorIndex(st.DB(), dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		return idx, nil
	}
}

// rebuild drops every file through the pipeline, clears what is left of
// the catalog and stamps the current schema and config hash.
func (a *app) rebuild(ctx context.Context) error {
	start := time.Now()
	n, err := a.indexer.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	if a.bolt != nil {
		if err := a.bolt.Clear(); err != nil {
			return fmt.Errorf("failed to clear catalog: %w", err)
		}
		if err := a.bolt.Migrate(a.cfg); err != nil {
			return fmt.Errorf("failed to update schema info: %w", err)
		}
	}
	if a.cache != nil {
		a.cache.Invalidate()
	}
	log.Info().Int("entries", n).Dur("duration", time.Since(start)).Msg("index cleared for rebuild")
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("error while closing")
	}
	a.closers = nil
}
