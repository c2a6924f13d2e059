package store

import (
	"context"
	"sort"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// Query parameterizes Recall.
type Query struct {
	Embedding []float32
	// Tiers restricts results to these ordinals. Empty means every tier.
	Tiers         []tier.Ordinal
	MinImportance float64
	K             int
	// EfSearch overrides the index beam width; 0 uses the index default.
	EfSearch int
}

// Hit is one recall result.
type Hit struct {
	Record     record.Record
	Similarity float32
}

type tierSet [tier.Count + 1]bool

func newTierSet(ords []tier.Ordinal) (tierSet, error) {
	var set tierSet
	if len(ords) == 0 {
		for _, o := range tier.All() {
			set[o] = true
		}
		return set, nil
	}
	for _, o := range ords {
		if !o.Valid() {
			return set, errors.Wrap(errors.ErrInvalidInput, "tier filter contains %d", o)
		}
		set[o] = true
	}
	return set, nil
}

// Recall searches the index for the K nearest records, keeps those whose
// tier is in the filter and whose importance is at least MinImportance, and
// ranks them by similarity, then importance descending, then creation time.
// Every returned record has its access count and last access updated.
//
// Filtering happens after the search, so fewer than K hits come back when
// the nearest K include filtered records. ErrEmptyIndex is returned when
// the store holds no records.
func (s *Store) Recall(ctx context.Context, q Query) ([]Hit, error) {
	if q.K <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "k must be positive, got %d", q.K)
	}
	if err := validImportance(q.MinImportance); err != nil {
		return nil, err
	}
	filter, err := newTierSet(q.Tiers)
	if err != nil {
		return nil, err
	}

	results, err := s.index.Search(q.Embedding, q.K, q.EfSearch)
	if err != nil {
		return nil, err
	}

	now := s.now()
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		t, rec := s.locate(record.ID(r.Key))
		if rec == nil {
			// evicted between search and lookup
			continue
		}
		if filter[t.ordinal] && rec.Importance >= q.MinImportance {
			rec.Touch(now)
			hits = append(hits, Hit{Record: rec.Clone(), Similarity: r.Similarity})
		}
		t.mu.Unlock()
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Record.Importance != b.Record.Importance {
			return a.Record.Importance > b.Record.Importance
		}
		return a.Record.CreatedAt.Before(b.Record.CreatedAt)
	})

	log.FromContext(ctx).Debug("Recall completed",
		"k", q.K,
		"candidates", len(results),
		"returned", len(hits),
	)
	for _, h := range hits {
		s.listeners.OnAccess(h.Record)
	}
	return hits, nil
}
