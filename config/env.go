package config

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type envBinding struct {
	name string
	set  func(cfg *Config, raw any) error
}

func floatVar(dst func(*Config) *float64) func(*Config, any) error {
	return func(cfg *Config, raw any) error {
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, any) error {
	return func(cfg *Config, raw any) error {
		v, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, any) error {
	return func(cfg *Config, raw any) error {
		v, err := cast.ToStringE(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

// envBindings lists the recognized environment overrides.
var envBindings = []envBinding{
	{"SIMILARITY_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Matching.SimilarityThreshold })},
	{"TOP_K", intVar(func(c *Config) *int { return &c.Matching.TopK })},
	{"PRICE_TOLERANCE", floatVar(func(c *Config) *float64 { return &c.Validation.PriceTolerance })},
	{"ZERO_PRICE_EPSILON", floatVar(func(c *Config) *float64 { return &c.Validation.ZeroPriceEpsilon })},
	{"MAX_PRODUCTS_PER_IMAGE", intVar(func(c *Config) *int { return &c.Validation.MaxItems })},
	{"VECTOR_INDEX", stringVar(func(c *Config) *string { return &c.Index.Backend })},
	{"INDEX_PATH", stringVar(func(c *Config) *string { return &c.Index.Path })},
	{"QDRANT_HOST", stringVar(func(c *Config) *string { return &c.Index.Qdrant.Host })},
	{"QDRANT_PORT", intVar(func(c *Config) *int { return &c.Index.Qdrant.Port })},
	{"QDRANT_COLLECTION", stringVar(func(c *Config) *string { return &c.Index.Qdrant.Collection })},
	{"EMBEDDING_PROVIDER", stringVar(func(c *Config) *string { return &c.Embedding.Provider })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_BASE_URL", stringVar(func(c *Config) *string { return &c.Embedding.BaseURL })},
	{"EMBEDDING_API_KEY_ENV", stringVar(func(c *Config) *string { return &c.Embedding.APIKeyEnv })},
	{"EMBEDDING_DIMENSION", intVar(func(c *Config) *int { return &c.Embedding.Dimension })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"SERVER_ADDR", stringVar(func(c *Config) *string { return &c.Server.Addr })},
}

// ApplyEnv overrides cfg with any recognized environment variable that is set.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	for _, b := range envBindings {
		if err := v.BindEnv(b.name); err != nil {
			return err
		}
	}

	for _, b := range envBindings {
		if !v.IsSet(b.name) {
			continue
		}
		if err := b.set(cfg, v.Get(b.name)); err != nil {
			return fmt.Errorf("environment variable %s: %w", b.name, err)
		}
	}
	return nil
}
