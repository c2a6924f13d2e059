// Package mmu is the memory management unit: it turns content into
// embeddings, runs policy hooks, keeps durable storage in step with the
// tiered store and drives consolidation.
package mmu

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lexlapax/omegamem/pkg/embedding"
	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/pkg/scripting"
)

// summaryLimit bounds the text embedded for non-text content and shown to
// hooks.
const summaryLimit = 512

// Config contains configuration options for the MMU.
type Config struct {
	// EnableLuaHooks determines whether to call Lua hooks during operations.
	EnableLuaHooks bool `yaml:"enable_lua_hooks"`

	// DefaultK is used when a Query leaves K unset.
	DefaultK int `yaml:"default_k"`
}

// DefaultConfig returns the default configuration for the MMU.
func DefaultConfig() Config {
	return Config{
		EnableLuaHooks: true,
		DefaultK:       10,
	}
}

// Dependencies are the collaborators an MMU is built from. All are
// optional: without an Embedder only embedding-carrying calls work, without
// a Persister nothing is durable, without Scripts no hooks run.
type Dependencies struct {
	Embedder  embedding.Embedder
	Scripts   scripting.Engine
	Persister persist.Persister
	Logger    *slog.Logger
	// Clock overrides time.Now for the store.
	Clock func() time.Time
}

// Query describes a retrieval. Embedding wins over Text when both are set.
type Query struct {
	Text          string
	Embedding     []float32
	Tiers         []tier.Ordinal
	MinImportance float64
	K             int
}

// MMU owns one tiered store and its consolidation engine.
type MMU struct {
	store     *store.Store
	engine    *consolidation.Engine
	embedder  embedding.Embedder
	scripts   scripting.Engine
	persister persist.Persister
	config    Config
	logger    *slog.Logger

	persistErrors atomic.Int64
}

// New builds the store described by storeCfg, wiring a persistence syncer
// when deps.Persister is set. Nothing is loaded; call Load for that.
func New(storeCfg store.Config, consCfg consolidation.Config, deps Dependencies, config Config) (*MMU, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.DefaultK <= 0 {
		config.DefaultK = DefaultConfig().DefaultK
	}
	if deps.Embedder != nil {
		if d := deps.Embedder.Dimension(); d > 0 && d != storeCfg.Dimension {
			return nil, errors.NewDimensionMismatch(storeCfg.Dimension, d)
		}
	}

	m := &MMU{
		embedder:  deps.Embedder,
		scripts:   deps.Scripts,
		persister: deps.Persister,
		config:    config,
		logger:    log.WithComponent(deps.Logger, "mmu"),
	}

	opts := []store.Option{store.WithLogger(deps.Logger)}
	if deps.Clock != nil {
		opts = append(opts, store.WithClock(deps.Clock))
	}
	if deps.Persister != nil {
		lookup := func(id record.ID) (record.Record, error) { return m.store.Get(id) }
		opts = append(opts, store.WithListener(persist.NewSyncer(deps.Persister, lookup, deps.Logger, func(error) {
			m.persistErrors.Add(1)
		})))
	}
	s, err := store.New(storeCfg, opts...)
	if err != nil {
		return nil, err
	}
	m.store = s
	m.engine = consolidation.New(s, consCfg, deps.Logger)

	m.logger.Debug("Memory Management Unit (MMU) initialized",
		"lua_hooks_enabled", config.EnableLuaHooks && deps.Scripts != nil,
		"embedder", deps.Embedder != nil,
		"persistent", deps.Persister != nil,
	)
	return m, nil
}

// Store returns the underlying tiered store.
func (m *MMU) Store() *store.Store { return m.store }

// Load replays every persisted record into the store. It returns the number
// loaded; records the store refuses are reported in the joined error and
// skipped.
func (m *MMU) Load(ctx context.Context) (int, error) {
	if m.persister == nil {
		return 0, nil
	}
	recs, err := m.persister.LoadAll(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.ErrPersistenceUnavailable, "load: %v", err)
	}
	n, err := m.store.Restore(ctx, recs)
	m.logger.Info("Loaded persisted records", "loaded", n, "stored", len(recs))
	return n, err
}

// Encode embeds content and stores it in tier 1. Text content is embedded
// as is; other kinds are embedded through their one-line summary.
func (m *MMU) Encode(ctx context.Context, content record.Content, importance float64) (record.ID, error) {
	if err := content.Validate(); err != nil {
		return "", err
	}
	if m.embedder == nil {
		return "", errors.Wrap(errors.ErrInvalidInput, "no embedder configured; use EncodeWithEmbedding")
	}
	importance, err := m.beforeEncode(ctx, content, importance)
	if err != nil {
		return "", err
	}
	emb, err := embedding.EmbedOne(ctx, m.embedder, embeddingText(content))
	if err != nil {
		return "", errors.Wrap(err, "embed content")
	}
	return m.store.Store(ctx, content, emb, importance)
}

// EncodeWithEmbedding stores content with a caller-supplied embedding.
func (m *MMU) EncodeWithEmbedding(ctx context.Context, content record.Content, emb []float32, importance float64) (record.ID, error) {
	if err := content.Validate(); err != nil {
		return "", err
	}
	importance, err := m.beforeEncode(ctx, content, importance)
	if err != nil {
		return "", err
	}
	return m.store.Store(ctx, content, emb, importance)
}

func embeddingText(c record.Content) string {
	if c.Kind == record.KindText {
		return c.Text
	}
	return c.Summary(summaryLimit)
}

// Retrieve returns the records most similar to q. An empty store yields no
// hits rather than ErrEmptyIndex.
func (m *MMU) Retrieve(ctx context.Context, q Query) ([]store.Hit, error) {
	if q.K <= 0 {
		q.K = m.config.DefaultK
	}
	q = m.beforeRetrieve(ctx, q)

	emb := q.Embedding
	if emb == nil {
		if q.Text == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "query needs text or an embedding")
		}
		if m.embedder == nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "no embedder configured for text queries")
		}
		var err error
		if emb, err = embedding.EmbedOne(ctx, m.embedder, q.Text); err != nil {
			return nil, errors.Wrap(err, "embed query")
		}
	}

	hits, err := m.store.Recall(ctx, store.Query{
		Embedding:     emb,
		Tiers:         q.Tiers,
		MinImportance: q.MinImportance,
		K:             q.K,
	})
	if errors.Is(err, errors.ErrEmptyIndex) {
		return []store.Hit{}, nil
	}
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Retrieved records", "k", q.K, "returned", len(hits))
	return hits, nil
}

// Get returns a record without counting an access.
func (m *MMU) Get(id record.ID) (record.Record, error) {
	return m.store.Get(id)
}

// Consolidate runs one consolidation pass as of now and hands the report to
// the after_consolidate hook.
func (m *MMU) Consolidate(ctx context.Context, now time.Time) (consolidation.Report, error) {
	rep, err := m.engine.AutoConsolidate(ctx, now)
	if err != nil {
		return rep, err
	}
	m.afterConsolidate(ctx, rep)
	return rep, nil
}

// Run consolidates every interval until ctx is done, using the store's
// clock. onReport, when non-nil, sees every pass.
func (m *MMU) Run(ctx context.Context, interval time.Duration, onReport func(consolidation.Report, error)) {
	m.engine.Run(ctx, interval, m.store.Now, func(rep consolidation.Report, err error) {
		if err == nil {
			m.afterConsolidate(ctx, rep)
		}
		if onReport != nil {
			onReport(rep, err)
		}
	})
}

// Compact rebuilds the vector index without tombstones.
func (m *MMU) Compact(ctx context.Context) error {
	return m.store.Compact(ctx)
}

// Stats returns per-tier counts and index figures.
func (m *MMU) Stats() store.Stats {
	return m.store.Stats()
}

// PersistErrors returns how many persistence writes have failed.
func (m *MMU) PersistErrors() int64 {
	return m.persistErrors.Load()
}

// Close releases the persister and the script engine.
func (m *MMU) Close() error {
	var errs []error
	if m.persister != nil {
		errs = append(errs, m.persister.Close())
	}
	if m.scripts != nil {
		errs = append(errs, m.scripts.Close())
	}
	return errors.Join(errs...)
}
