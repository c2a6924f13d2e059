// Package store implements the tiered memory store: twelve bounded tiers of
// records sharing one vector index.
//
// Locking: each Tier has its own mutex. When two tiers are held at once the
// lower ordinal is always locked first. The index has its own lock and is
// only ever acquired after tier locks, never before. Listener callbacks run
// with no locks held.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/hnsw"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/score"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// DefaultCompactThreshold is the tombstone fraction above which MaybeCompact
// rebuilds the index.
const DefaultCompactThreshold = 0.3

// Config holds everything fixed at construction time.
type Config struct {
	Dimension        int
	Policies         tier.Policies
	Score            score.Config
	Index            hnsw.Options
	CompactThreshold float64
}

// DefaultConfig returns defaults for the given embedding dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:        dimension,
		Policies:         tier.DefaultPolicies(),
		Score:            score.DefaultConfig(),
		Index:            hnsw.DefaultOptions(),
		CompactThreshold: DefaultCompactThreshold,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the time source used by Store and Recall.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithListener registers a lifecycle listener. Repeated options stack.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

// Store owns the tiers, the records and the vector index.
type Store struct {
	cfg       Config
	tiers     [tier.Count]*Tier
	index     *hnsw.Index
	scorer    *score.Scorer
	now       func() time.Time
	logger    *slog.Logger
	listeners Listeners
	compact   singleflight.Group
}

// New builds an empty store.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Policies.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "store: tier policies: %v", err)
	}
	if cfg.CompactThreshold <= 0 || cfg.CompactThreshold > 1 {
		cfg.CompactThreshold = DefaultCompactThreshold
	}
	scorer, err := score.New(cfg.Score, cfg.Policies)
	if err != nil {
		return nil, err
	}
	index, err := hnsw.New(cfg.Dimension, hnsw.WithOptions(cfg.Index))
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		index:  index,
		scorer: scorer,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range tier.All() {
		s.tiers[o-1] = newTier(o, cfg.Policies.For(o))
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(s.logger, "store")

	s.logger.Debug("Tiered store initialized",
		"dimension", cfg.Dimension,
		"m", index.Options().M,
		"ef_construction", index.Options().EfConstruction,
		"compact_threshold", cfg.CompactThreshold,
	)
	return s, nil
}

// Dimension returns the embedding length every record must have.
func (s *Store) Dimension() int { return s.cfg.Dimension }

// Scorer returns the scorer configured for this store.
func (s *Store) Scorer() *score.Scorer { return s.scorer }

// Policy returns the fixed policy of tier o.
func (s *Store) Policy(o tier.Ordinal) tier.Policy { return s.cfg.Policies.For(o) }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) tier(o tier.Ordinal) *Tier { return s.tiers[o-1] }

func validImportance(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errors.Wrap(errors.ErrInvalidImportance, "got %v", v)
	}
	return nil
}

// Store creates a record in tier 1, indexes its embedding and returns its
// ID. When tier 1 is full the weakest resident is displaced and tombstoned,
// or the new record is rejected with ErrTierFull if it is the weaker one.
func (s *Store) Store(ctx context.Context, content record.Content, embedding []float32, importance float64) (record.ID, error) {
	if err := content.Validate(); err != nil {
		return "", err
	}
	if err := validImportance(importance); err != nil {
		return "", err
	}
	if err := s.index.Check(embedding); err != nil {
		return "", err
	}

	now := s.now()
	rec := record.New(content, embedding, importance, now)
	t := s.tier(tier.Instant)

	t.mu.Lock()
	displaced, err := t.admitLocked(rec, s.scorer, now)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	if err := s.index.Insert(string(rec.ID), embedding); err != nil {
		t.removeLocked(rec.ID)
		if displaced != nil {
			t.putLocked(displaced)
		}
		t.mu.Unlock()
		return "", err
	}
	if displaced != nil {
		s.tombstone(displaced.ID)
	}
	admitted := rec.Clone()
	t.mu.Unlock()

	log.FromContext(ctx).Debug("Record stored",
		"id", rec.ID,
		"kind", content.Kind.String(),
		"importance", importance,
	)
	s.listeners.OnAdmit(admitted)
	if displaced != nil {
		s.logger.Debug("Record displaced", "id", displaced.ID, "tier", tier.Instant.String())
		s.listeners.OnEvict(*displaced, EvictDisplaced)
	}
	return rec.ID, nil
}

// tombstone removes id from the index. Callers hold the owning tier's lock.
func (s *Store) tombstone(id record.ID) {
	if err := s.index.Tombstone(string(id)); err != nil {
		s.logger.Warn("Index out of sync with tiers", "id", id, "error", err)
	}
}

// locate finds the live record with id, scanning tiers upward. Promotion
// moves a record from a lower tier to a higher one while holding both
// locks, so an ascending scan cannot miss a record in flight. On success
// the owning tier is returned locked.
func (s *Store) locate(id record.ID) (*Tier, *record.Record) {
	for _, t := range s.tiers {
		t.mu.Lock()
		if rec, ok := t.records[id]; ok {
			return t, rec
		}
		t.mu.Unlock()
	}
	return nil, nil
}

// Get returns a copy of the record with id without counting an access.
func (s *Store) Get(id record.ID) (record.Record, error) {
	t, rec := s.locate(id)
	if rec == nil {
		return record.Record{}, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	cp := rec.Clone()
	t.mu.Unlock()
	return cp, nil
}

// Len returns the number of live records across all tiers.
func (s *Store) Len() int {
	n := 0
	for _, t := range s.tiers {
		n += t.Len()
	}
	return n
}

// Residents returns copies of tier o's records in creation order.
func (s *Store) Residents(o tier.Ordinal) ([]record.Record, error) {
	if !o.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidInput, "tier %d", o)
	}
	return s.tier(o).snapshot(), nil
}

// TierStats describes one tier.
type TierStats struct {
	Tier     tier.Ordinal `json:"tier"`
	Name     string       `json:"name"`
	Count    int          `json:"count"`
	Capacity int          `json:"capacity"`
}

// Stats is a snapshot of per-tier record counts and index state.
type Stats struct {
	Tiers          []TierStats `json:"tiers"`
	Total          int         `json:"total"`
	IndexNodes     int         `json:"index_nodes"`
	IndexLive      int         `json:"index_live"`
	TombstoneRatio float64     `json:"tombstone_ratio"`
	IndexMaxLevel  int         `json:"index_max_level"`
}

// Count returns the number of records in tier o.
func (st Stats) Count(o tier.Ordinal) int {
	for _, ts := range st.Tiers {
		if ts.Tier == o {
			return ts.Count
		}
	}
	return 0
}

// Stats returns per-tier record counts.
func (s *Store) Stats() Stats {
	st := Stats{Tiers: make([]TierStats, 0, tier.Count)}
	for _, t := range s.tiers {
		n := t.Len()
		st.Tiers = append(st.Tiers, TierStats{
			Tier:     t.ordinal,
			Name:     t.ordinal.Name(),
			Count:    n,
			Capacity: t.policy.Capacity,
		})
		st.Total += n
	}
	is := s.index.Stats()
	st.IndexNodes = is.Nodes
	st.IndexLive = is.Live
	st.IndexMaxLevel = is.MaxLevel
	if is.Nodes > 0 {
		st.TombstoneRatio = float64(is.Tombstoned) / float64(is.Nodes)
	}
	return st
}

// IndexStats exposes the vector index's layer statistics.
func (s *Store) IndexStats() hnsw.Stats { return s.index.Stats() }

func (st Stats) String() string {
	return fmt.Sprintf("%d records, %d index nodes (%.0f%% tombstoned)",
		st.Total, st.IndexNodes, st.TombstoneRatio*100)
}
