package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML over the defaults, applies environment
// overrides and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if v := os.Getenv("OMEGAMEM_PERSISTENCE_TYPE"); v != "" {
		config.Persistence.Type = v
	}
	if v := os.Getenv("OMEGAMEM_PERSISTENCE_PATH"); v != "" {
		config.Persistence.Path = v
	}
	if v := os.Getenv("OMEGAMEM_POSTGRES_DSN"); v != "" {
		config.Persistence.DSN = v
	}
	if v := os.Getenv("OMEGAMEM_EMBEDDING_PROVIDER"); v != "" {
		config.Embedding.Provider = v
	}
	if v := os.Getenv("OMEGAMEM_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Store.Dimension = n
		}
	}
	if v := os.Getenv("OMEGAMEM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		config.Embedding.Ollama.BaseURL = v
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and fills in defaults.
func validateConfig(config *Config) error {
	if config.Store.Dimension <= 0 {
		return fmt.Errorf("store dimension must be positive, got %d", config.Store.Dimension)
	}
	if _, err := config.BuildStoreConfig(); err != nil {
		return err
	}

	switch strings.ToLower(config.Persistence.Type) {
	case "", "none", "memory":
	case "boltdb", "sqlite":
		if config.Persistence.Path == "" {
			return fmt.Errorf("path is required for %s persistence", config.Persistence.Type)
		}
	case "postgres":
		if config.Persistence.DSN == "" {
			return fmt.Errorf("dsn is required for postgres persistence")
		}
	default:
		return fmt.Errorf("unsupported persistence type: %s", config.Persistence.Type)
	}

	switch strings.ToLower(config.Embedding.Provider) {
	case "mock":
	case "openai":
		// the API key may arrive through OPENAI_API_KEY, checked at construction
		if config.Embedding.OpenAI.Dimension <= 0 {
			config.Embedding.OpenAI.Dimension = config.Store.Dimension
		}
		if config.Embedding.OpenAI.Dimension != config.Store.Dimension {
			return fmt.Errorf("openai dimension %d differs from store dimension %d",
				config.Embedding.OpenAI.Dimension, config.Store.Dimension)
		}
	case "ollama":
		if config.Embedding.Ollama.Dimension <= 0 {
			config.Embedding.Ollama.Dimension = config.Store.Dimension
		}
		if config.Embedding.Ollama.Dimension != config.Store.Dimension {
			return fmt.Errorf("ollama dimension %d differs from store dimension %d",
				config.Embedding.Ollama.Dimension, config.Store.Dimension)
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}

	if config.Consolidation.Interval < 0 {
		return fmt.Errorf("consolidation interval must not be negative")
	}
	if config.MMU.DefaultK <= 0 {
		config.MMU.DefaultK = 10
	}

	switch strings.ToLower(config.Logging.Format) {
	case "":
		config.Logging.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", config.Logging.Format)
	}
	return nil
}

// BuildStoreConfig converts the store, score and index sections into a
// store.Config with tier overrides applied and checked.
func (c *Config) BuildStoreConfig() (store.Config, error) {
	sc := store.DefaultConfig(c.Store.Dimension)
	sc.Score = c.Store.Score
	sc.Index = c.Index
	if c.Store.CompactThreshold > 0 {
		sc.CompactThreshold = c.Store.CompactThreshold
	}
	if err := sc.Score.Validate(); err != nil {
		return store.Config{}, fmt.Errorf("score: %w", err)
	}

	for _, ov := range c.Store.Tiers {
		o, err := tier.Parse(ov.Tier)
		if err != nil {
			return store.Config{}, fmt.Errorf("tier override: %w", err)
		}
		p := sc.Policies.For(o)
		if ov.Capacity != nil {
			p.Capacity = *ov.Capacity
		}
		if ov.HalfLife != nil {
			p.HalfLife = *ov.HalfLife
		}
		if ov.PromoteThreshold != nil {
			p.PromoteThreshold = *ov.PromoteThreshold
		}
		if ov.EvictThreshold != nil {
			p.EvictThreshold = *ov.EvictThreshold
		}
		sc.Policies.Set(o, p)
	}
	if err := sc.Policies.Validate(); err != nil {
		return store.Config{}, err
	}
	return sc, nil
}

// EngineConfig returns the consolidation engine settings.
func (c *Config) EngineConfig() consolidation.Config {
	return consolidation.Config{CompactAfter: c.Consolidation.CompactAfter}
}
