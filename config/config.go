package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderNGram  = "ngram"
	ProviderOpenAI = "openai"

	BackendBolt   = "bolt"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Config holds all configuration for shelfcheck.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Matching   MatchingConfig   `yaml:"matching"`
	Validation ValidationConfig `yaml:"validation"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`    // "ngram" or "openai"
	Model             string        `yaml:"model"`       // e.g., "text-embedding-3-small"
	BaseURL           string        `yaml:"base_url"`    // any OpenAI-compatible endpoint
	APIKeyEnv         string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension         int           `yaml:"dimension"`   // 0 = provider default
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	CacheSize         int64         `yaml:"cache_size"`          // 0 = cache disabled
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string        `yaml:"backend"` // "bolt", "qdrant" or "memory"
	Path    string        `yaml:"path"`    // bolt file; empty = .shelfcheck/catalog.db
	Timeout time.Duration `yaml:"timeout"` // per search/upsert call
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"` // gRPC port
	Collection string `yaml:"collection"`
	APIKeyEnv  string `yaml:"api_key_env"`
	UseTLS     bool   `yaml:"use_tls"`
	BatchSize  int    `yaml:"batch_size"`
}

// MatchingConfig holds the match acceptance policy.
type MatchingConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
	SearchRetries       int     `yaml:"search_retries"`
}

// ValidationConfig holds price comparison and request limits.
type ValidationConfig struct {
	PriceTolerance   float64 `yaml:"price_tolerance"`    // relative, 0.02 = 2%
	ZeroPriceEpsilon float64 `yaml:"zero_price_epsilon"` // absolute, used when the catalog price is 0
	MaxItems         int     `yaml:"max_items"`
	Workers          int     `yaml:"workers"`
}

// CatalogConfig selects row files for directory indexing.
type CatalogConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   ProviderNGram,
			Model:      "text-embedding-3-small",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "OPENAI_API_KEY",
			BatchSize:  100,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			CacheSize:  10000,
			CacheTTL:   time.Hour,
		},
		Index: IndexConfig{
			Backend: BackendBolt,
			Timeout: 5 * time.Second,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "products",
				APIKeyEnv:  "QDRANT_API_KEY",
				BatchSize:  100,
			},
		},
		Matching: MatchingConfig{
			SimilarityThreshold: 0.7,
			TopK:                5,
			SearchRetries:       2,
		},
		Validation: ValidationConfig{
			PriceTolerance:   0.02,
			ZeroPriceEpsilon: 0.005,
			MaxItems:         100,
			Workers:          8,
		},
		Catalog: CatalogConfig{
			Includes: []string{"**/*.json"},
			Excludes: []string{"**/.shelfcheck/**", "**/node_modules/**", "**/.git/**"},
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for shelfcheck.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "shelfcheck.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".shelfcheck", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// No file: defaults plus environment.
	return Load(filepath.Join(dir, "shelfcheck.yaml"))
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Matching.SimilarityThreshold < 0 || c.Matching.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be within [0,1], got %v", c.Matching.SimilarityThreshold)
	}
	if c.Matching.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.Matching.TopK)
	}
	if c.Validation.PriceTolerance < 0 {
		return fmt.Errorf("price_tolerance must not be negative, got %v", c.Validation.PriceTolerance)
	}
	if c.Validation.ZeroPriceEpsilon < 0 {
		return fmt.Errorf("zero_price_epsilon must not be negative, got %v", c.Validation.ZeroPriceEpsilon)
	}
	if c.Validation.MaxItems < 1 || c.Validation.Workers < 1 {
		return fmt.Errorf("max_items and workers must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	switch c.Embedding.Provider {
	case ProviderNGram, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case BackendBolt, BackendQdrant, BackendMemory:
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	return nil
}

// EffectiveTopK is the number of candidates requested from the index.
// At least 5 are always fetched so near-misses stay inspectable.
func (c *Config) EffectiveTopK() int {
	if c.Matching.TopK < 5 {
		return 5
	}
	return c.Matching.TopK
}

// EmbedDeadline bounds one embedding call with every provider retry.
// Zero when no embedding timeout is set.
func (c *Config) EmbedDeadline() time.Duration {
	retries := c.Embedding.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return c.Embedding.Timeout * time.Duration(retries+1)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the bolt file path, honoring index.path.
func (c *Config) IndexDBPath(dir string) string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return IndexDBPath(dir)
}

// IndexDBPath returns the default path to the catalog database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".shelfcheck", "catalog.db")
}

// EnsureDataDir ensures the .shelfcheck directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".shelfcheck"), 0755)
}
