package store

import (
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/score"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// Tier is a bounded container of records at one freshness level. All
// methods suffixed Locked require mu to be held by the caller.
type Tier struct {
	mu      sync.Mutex
	ordinal tier.Ordinal
	policy  tier.Policy
	records map[record.ID]*record.Record
}

func newTier(o tier.Ordinal, p tier.Policy) *Tier {
	return &Tier{
		ordinal: o,
		policy:  p,
		records: make(map[record.ID]*record.Record),
	}
}

// Ordinal returns the tier's position in the hierarchy.
func (t *Tier) Ordinal() tier.Ordinal { return t.ordinal }

// Policy returns the tier's fixed policy.
func (t *Tier) Policy() tier.Policy { return t.policy }

// Len returns the number of residents.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// weakestLocked returns the lowest-scoring resident. Ties go to the earliest
// created record, then the lowest ID, so the choice never depends on map
// order.
func (t *Tier) weakestLocked(sc *score.Scorer, now time.Time) (*record.Record, float64) {
	var (
		weakest *record.Record
		low     float64
	)
	for _, r := range t.records {
		s := sc.ScoreIn(r, t.ordinal, now)
		if weakest == nil || s < low || (s == low && record.Less(r, weakest)) {
			weakest, low = r, s
		}
	}
	return weakest, low
}

// admitLocked places rec in the tier. At capacity the weakest resident is
// displaced and returned, unless rec scores no higher than it, in which case
// rec is rejected with ErrTierFull. The terminal tier never displaces.
func (t *Tier) admitLocked(rec *record.Record, sc *score.Scorer, now time.Time) (*record.Record, error) {
	if _, dup := t.records[rec.ID]; dup {
		return nil, errors.Wrap(errors.ErrInvalidInput, "record %s already in tier %s", rec.ID, t.ordinal)
	}
	if len(t.records) < t.policy.Capacity {
		t.putLocked(rec)
		return nil, nil
	}
	if t.ordinal.Terminal() {
		return nil, errors.Wrap(errors.ErrTierFull, "tier %s holds %d records", t.ordinal, len(t.records))
	}

	weakest, low := t.weakestLocked(sc, now)
	incoming := sc.ScoreIn(rec, t.ordinal, now)
	if incoming <= low {
		return nil, errors.Wrap(errors.ErrTierFull,
			"tier %s: incoming score %.4f does not exceed weakest %.4f", t.ordinal, incoming, low)
	}
	delete(t.records, weakest.ID)
	t.putLocked(rec)
	return weakest, nil
}

func (t *Tier) putLocked(rec *record.Record) {
	rec.Tier = t.ordinal
	t.records[rec.ID] = rec
}

// removeLocked detaches the record with id and returns it.
func (t *Tier) removeLocked(id record.ID) (*record.Record, bool) {
	rec, ok := t.records[id]
	if ok {
		delete(t.records, id)
	}
	return rec, ok
}

// snapshot returns copies of all residents in creation order.
func (t *Tier) snapshot() []record.Record {
	t.mu.Lock()
	recs := make([]*record.Record, 0, len(t.records))
	for _, r := range t.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return record.Less(recs[i], recs[j]) })
	out := make([]record.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	t.mu.Unlock()
	return out
}
