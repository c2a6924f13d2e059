// Package config loads the YAML configuration of an omegamem instance.
package config

import (
	"time"

	"github.com/lexlapax/omegamem/pkg/embedding/adapters/ollama"
	"github.com/lexlapax/omegamem/pkg/embedding/adapters/openai"
	"github.com/lexlapax/omegamem/pkg/mem/hnsw"
	"github.com/lexlapax/omegamem/pkg/mem/score"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mmu"
	"github.com/lexlapax/omegamem/pkg/scripting"
)

// Config represents the top-level configuration.
type Config struct {
	// Store configures the tiered store and its scoring.
	Store StoreConfig `yaml:"store"`

	// Index configures the vector index.
	Index hnsw.Options `yaml:"index"`

	// Consolidation configures the consolidation engine and its scheduler.
	Consolidation ConsolidationConfig `yaml:"consolidation"`

	// Persistence configures durable storage of records.
	Persistence PersistenceConfig `yaml:"persistence"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Scripting configures the Lua scripting engine.
	Scripting ScriptingConfig `yaml:"scripting"`

	// MMU configures retrieval defaults and hooks.
	MMU mmu.Config `yaml:"mmu"`

	// Logging configures the logging behavior.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the tiered store.
type StoreConfig struct {
	// Dimension is the embedding length every record must have.
	Dimension int `yaml:"dimension"`

	// Score holds the recency weight and access saturation.
	Score score.Config `yaml:"score"`

	// CompactThreshold is the tombstone fraction that triggers compaction.
	CompactThreshold float64 `yaml:"compact_threshold"`

	// Tiers overrides individual tier policies. Unset fields keep defaults.
	Tiers []TierOverride `yaml:"tiers"`
}

// TierOverride changes part of one tier's policy. Tier is a name
// ("episodic") or an ordinal ("3").
type TierOverride struct {
	Tier             string         `yaml:"tier"`
	Capacity         *int           `yaml:"capacity"`
	HalfLife         *time.Duration `yaml:"half_life"`
	PromoteThreshold *float64       `yaml:"promote_threshold"`
	EvictThreshold   *float64       `yaml:"evict_threshold"`
}

// ConsolidationConfig configures consolidation.
type ConsolidationConfig struct {
	// Interval is the scheduler period. Zero disables background passes.
	Interval time.Duration `yaml:"interval"`

	// CompactAfter compacts the index after a pass when it is worthwhile.
	CompactAfter bool `yaml:"compact_after"`
}

// PersistenceConfig configures durable storage.
type PersistenceConfig struct {
	// Type is one of "none", "memory", "boltdb", "sqlite" or "postgres".
	Type string `yaml:"type"`

	// Path is the database file for boltdb and sqlite.
	Path string `yaml:"path"`

	// DSN is the connection string for postgres.
	DSN string `yaml:"dsn"`

	// Compression enables zstd compression of boltdb values.
	Compression bool `yaml:"compression"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "mock", "openai" or "ollama".
	Provider string `yaml:"provider"`

	OpenAI openai.Config `yaml:"openai"`
	Ollama ollama.Config `yaml:"ollama"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Enabled turns on the Lua engine.
	Enabled bool `yaml:"enabled"`

	// Paths is a list of directories or .lua files to load.
	Paths []string `yaml:"paths"`

	// Engine holds sandboxing and timeout settings.
	Engine scripting.Config `yaml:"engine"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a configuration that runs entirely in memory with the
// mock embedder.
func Default() *Config {
	sc := store.DefaultConfig(64)
	return &Config{
		Store: StoreConfig{
			Dimension:        sc.Dimension,
			Score:            sc.Score,
			CompactThreshold: sc.CompactThreshold,
		},
		Index: hnsw.DefaultOptions(),
		Consolidation: ConsolidationConfig{
			Interval:     time.Minute,
			CompactAfter: true,
		},
		Persistence: PersistenceConfig{Type: "none"},
		Embedding:   EmbeddingConfig{Provider: "mock"},
		Scripting: ScriptingConfig{
			Engine: scripting.DefaultConfig(),
		},
		MMU: mmu.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
