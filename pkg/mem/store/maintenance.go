package store

import (
	"context"
	"time"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// Promotion is the outcome of a successful Promote.
type Promotion struct {
	Record record.Record
	From   tier.Ordinal
	// Displaced is the destination resident pushed out to make room, if any.
	Displaced *record.Record
}

// Promote moves the record with id from tier from to the next tier up. The
// destination's admission rule applies, so it may displace that tier's
// weakest record (tombstoning it) or fail with ErrTierFull, in which case
// the record stays where it was. ErrNotFound means the record is no longer
// in from.
func (s *Store) Promote(ctx context.Context, id record.ID, from tier.Ordinal, now time.Time) (Promotion, error) {
	to, ok := from.Next()
	if !ok {
		return Promotion{}, errors.Wrap(errors.ErrInvalidInput, "tier %s is terminal", from)
	}
	src, dst := s.tier(from), s.tier(to)

	src.mu.Lock()
	dst.mu.Lock()
	rec, ok := src.records[id]
	if !ok {
		dst.mu.Unlock()
		src.mu.Unlock()
		return Promotion{}, errors.Wrap(errors.ErrNotFound, "record %s in tier %s", id, from)
	}
	displaced, err := dst.admitLocked(rec, s.scorer, now)
	if err != nil {
		dst.mu.Unlock()
		src.mu.Unlock()
		return Promotion{}, err
	}
	delete(src.records, id)
	if displaced != nil {
		s.tombstone(displaced.ID)
	}
	p := Promotion{Record: rec.Clone(), From: from, Displaced: displaced}
	dst.mu.Unlock()
	src.mu.Unlock()

	log.WithTier(log.FromContext(ctx), int(to), to.Name()).Debug("Record promoted",
		"id", id,
		"from", from.String(),
	)
	s.listeners.OnPromote(p.Record, from)
	if displaced != nil {
		s.listeners.OnEvict(*displaced, EvictDisplaced)
	}
	return p, nil
}

// Evict removes the record with id from tier from and tombstones it in the
// index. The terminal tier refuses evictions.
func (s *Store) Evict(ctx context.Context, id record.ID, from tier.Ordinal) (record.Record, error) {
	if !from.Valid() {
		return record.Record{}, errors.Wrap(errors.ErrInvalidInput, "tier %d", from)
	}
	if from.Terminal() {
		return record.Record{}, errors.Wrap(errors.ErrInvalidInput, "tier %s never evicts", from)
	}
	t := s.tier(from)

	t.mu.Lock()
	rec, ok := t.removeLocked(id)
	if !ok {
		t.mu.Unlock()
		return record.Record{}, errors.Wrap(errors.ErrNotFound, "record %s in tier %s", id, from)
	}
	s.tombstone(id)
	t.mu.Unlock()

	log.WithTier(log.FromContext(ctx), int(from), from.Name()).Debug("Record evicted", "id", id)
	evicted := *rec
	s.listeners.OnEvict(evicted, EvictLowScore)
	return evicted, nil
}

// Restore bulk-loads previously persisted records into their recorded tiers
// and indexes their embeddings. Records that fail validation or do not fit
// are skipped and reported in the joined error; the rest are loaded. No
// admit events fire for restored records.
func (s *Store) Restore(ctx context.Context, recs []record.Record) (int, error) {
	now := s.now()
	var errs []error
	loaded := 0
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return loaded, errors.Join(append(errs, err)...)
		}
		if err := s.restoreOne(recs[i].Clone(), now); err != nil {
			errs = append(errs, errors.Wrap(err, "restore %s", recs[i].ID))
			continue
		}
		loaded++
	}
	s.logger.Info("Store restored", "loaded", loaded, "skipped", len(errs))
	return loaded, errors.Join(errs...)
}

func (s *Store) restoreOne(rec record.Record, now time.Time) error {
	if rec.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "empty record id")
	}
	if !rec.Tier.Valid() {
		return errors.Wrap(errors.ErrInvalidInput, "tier %d", rec.Tier)
	}
	if err := rec.Content.Validate(); err != nil {
		return err
	}
	if err := validImportance(rec.Importance); err != nil {
		return err
	}
	if err := s.index.Check(rec.Embedding); err != nil {
		return err
	}
	if t, existing := s.locate(rec.ID); existing != nil {
		t.mu.Unlock()
		return errors.Wrap(errors.ErrInvalidInput, "duplicate record id")
	}

	t := s.tier(rec.Tier)
	t.mu.Lock()
	displaced, err := t.admitLocked(&rec, s.scorer, now)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if err := s.index.Insert(string(rec.ID), rec.Embedding); err != nil {
		t.removeLocked(rec.ID)
		if displaced != nil {
			t.putLocked(displaced)
		}
		t.mu.Unlock()
		return err
	}
	if displaced != nil {
		s.tombstone(displaced.ID)
	}
	t.mu.Unlock()

	if displaced != nil {
		s.listeners.OnEvict(*displaced, EvictDisplaced)
	}
	return nil
}

// Compact rebuilds the vector index without tombstoned nodes. Concurrent
// calls share one rebuild. Cancelling ctx aborts the rebuild and leaves the
// current index in place.
func (s *Store) Compact(ctx context.Context) error {
	_, err, shared := s.compact.Do("compact", func() (interface{}, error) {
		before := s.index.TombstoneRatio()
		start := time.Now()
		if err := s.index.Compact(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("Index compacted",
			"tombstone_ratio_before", before,
			"live", s.index.Len(),
			"duration", time.Since(start),
		)
		return nil, nil
	})
	if shared {
		s.logger.Debug("Compaction shared with concurrent caller")
	}
	return err
}

// MaybeCompact compacts only when the tombstone fraction exceeds the
// configured threshold. It reports whether a compaction ran.
func (s *Store) MaybeCompact(ctx context.Context) (bool, error) {
	if s.index.TombstoneRatio() <= s.cfg.CompactThreshold {
		return false, nil
	}
	if err := s.Compact(ctx); err != nil {
		return false, err
	}
	return true, nil
}
