// Package consolidation walks the tiers of a store, promoting records whose
// retention score clears their tier's promotion threshold and evicting
// those below the eviction threshold.
package consolidation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// Config controls optional work done at the end of a pass.
type Config struct {
	// CompactAfter runs Store.MaybeCompact once the pass finishes.
	CompactAfter bool `yaml:"compact_after"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{CompactAfter: true}
}

// Engine runs consolidation passes against one store. Passes are
// serialized; a second caller waits for the first to finish.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates an engine for s. A nil logger uses slog.Default.
func New(s *store.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		cfg:    cfg,
		logger: log.WithComponent(logger, "consolidation"),
	}
}

// AutoConsolidate performs one pass over tiers 1 through 11 in order. Each
// resident is scored as of now; records at or above the promotion threshold
// move up one tier, records below the eviction threshold are dropped, the
// rest stay. A record promoted in this pass is not evaluated again at its
// destination until the next pass.
//
// A transition that cannot be applied leaves the record in place and is
// listed in Report.Anomalies; it does not abort the pass. The only error
// returned is ctx's, checked between tiers.
func (e *Engine) AutoConsolidate(ctx context.Context, now time.Time) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	rep := Report{StartedAt: now, PerTier: make([]TierReport, tier.Count)}
	for _, o := range tier.All() {
		rep.PerTier[o-1].Tier = o
	}
	scorer := e.store.Scorer()
	moved := make(map[record.ID]struct{})

	for _, o := range tier.All() {
		if o.Terminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			e.finish(&rep, started)
			return rep, err
		}

		policy := e.store.Policy(o)
		residents, err := e.store.Residents(o)
		if err != nil {
			return rep, err
		}
		tr := &rep.PerTier[o-1]
		for i := range residents {
			rec := &residents[i]
			if _, ok := moved[rec.ID]; ok {
				continue
			}
			tr.Scanned++

			s := scorer.Score(rec, now)
			switch {
			case s >= policy.PromoteThreshold:
				if e.promote(ctx, &rep, rec, o, now) {
					moved[rec.ID] = struct{}{}
				}
			case s < policy.EvictThreshold:
				e.evict(ctx, &rep, rec, o)
			}
		}
	}

	if e.cfg.CompactAfter {
		ran, err := e.store.MaybeCompact(ctx)
		if err != nil {
			e.logger.Warn("Compaction after consolidation failed", "error", err)
		}
		rep.Compacted = ran
	}

	e.finish(&rep, started)
	e.logger.Info("Consolidation pass complete",
		"promoted", rep.Promoted,
		"evicted", rep.Evicted,
		"displaced", rep.Displaced,
		"anomalies", len(rep.Anomalies),
		"compacted", rep.Compacted,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (e *Engine) promote(ctx context.Context, rep *Report, rec *record.Record, o tier.Ordinal, now time.Time) bool {
	p, err := e.store.Promote(ctx, rec.ID, o, now)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			e.anomaly(rep, rec.ID, o, err)
		}
		// not found: displaced by a concurrent store since the snapshot
		return false
	}
	rep.Promoted++
	rep.PerTier[o-1].Promoted++
	rep.PromotedIDs = append(rep.PromotedIDs, rec.ID)
	if p.Displaced != nil {
		rep.Displaced++
		rep.PerTier[p.Record.Tier-1].Displaced++
	}
	return true
}

func (e *Engine) evict(ctx context.Context, rep *Report, rec *record.Record, o tier.Ordinal) {
	if _, err := e.store.Evict(ctx, rec.ID, o); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return
		}
		e.anomaly(rep, rec.ID, o, err)
		return
	}
	rep.Evicted++
	rep.PerTier[o-1].Evicted++
	rep.EvictedIDs = append(rep.EvictedIDs, rec.ID)
}

func (e *Engine) anomaly(rep *Report, id record.ID, o tier.Ordinal, err error) {
	rep.Anomalies = append(rep.Anomalies, Anomaly{
		RecordID: id,
		Tier:     o,
		Err:      err,
		Message:  err.Error(),
	})
	log.WithTier(e.logger, int(o), o.Name()).Warn("Consolidation transition skipped",
		"id", id,
		"error", err,
	)
}

func (e *Engine) finish(rep *Report, started time.Time) {
	stats := e.store.Stats()
	for i := range rep.PerTier {
		rep.PerTier[i].Resident = stats.Count(rep.PerTier[i].Tier)
	}
	rep.Duration = time.Since(started)
}

// Run calls AutoConsolidate every interval until ctx is done, passing each
// outcome to onReport when it is non-nil. now supplies the pass time.
func (e *Engine) Run(ctx context.Context, interval time.Duration, now func() time.Time, onReport func(Report, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Debug("Consolidation scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Consolidation scheduler stopped")
			return
		case <-ticker.C:
			rep, err := e.AutoConsolidate(ctx, now())
			if onReport != nil {
				onReport(rep, err)
			}
		}
	}
}
