package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// DefaultSyncTimeout bounds each write issued by a Syncer.
const DefaultSyncTimeout = 5 * time.Second

const syncStripes = 64

// Lookup returns the live copy of a record, or an error matching
// errors.ErrNotFound when the store no longer holds it. Store.Get fits.
type Lookup func(id record.ID) (record.Record, error)

// Syncer is a store.Listener that mirrors every lifecycle event into a
// Persister. Write failures are logged and counted, never returned to the
// store, since the store's state is authoritative.
//
// Listener callbacks run outside the store's locks, so events for one
// record can arrive out of order. With a Lookup, every event is treated as
// "record id changed": the Syncer re-reads the live record and saves it, or
// deletes it when it is gone, holding a per-record lock across the read and
// the write. The backend therefore always ends at the store's latest state.
// Without a Lookup the event payload is written as delivered.
type Syncer struct {
	p       Persister
	lookup  Lookup
	timeout time.Duration
	logger  *slog.Logger
	onError func(error)

	stripes [syncStripes]sync.Mutex
}

var _ store.Listener = (*Syncer)(nil)

// NewSyncer wraps p. lookup resolves the live record for each event and
// may be nil. onError, when non-nil, observes each failed write.
func NewSyncer(p Persister, lookup Lookup, logger *slog.Logger, onError func(error)) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		p:       p,
		lookup:  lookup,
		timeout: DefaultSyncTimeout,
		logger:  log.WithComponent(logger, "persist"),
		onError: onError,
	}
}

func (s *Syncer) stripe(id record.ID) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(string(id))%syncStripes]
}

// sync writes the store's current view of rec.ID. gone reports whether the
// event itself says the record left the store.
func (s *Syncer) sync(op string, rec record.Record, gone bool) {
	mu := s.stripe(rec.ID)
	mu.Lock()
	defer mu.Unlock()

	if s.lookup != nil {
		live, err := s.lookup(rec.ID)
		switch {
		case err == nil:
			rec, gone = live, false
		case errors.Is(err, errors.ErrNotFound):
			gone = true
		default:
			s.fail(op, rec.ID, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if gone {
		err := s.p.Delete(ctx, rec.ID)
		if err != nil {
			s.fail(op, rec.ID, err)
		}
		return
	}
	if err := s.p.Save(ctx, rec); err != nil {
		s.fail(op, rec.ID, err)
	}
}

func (s *Syncer) fail(op string, id record.ID, err error) {
	s.logger.Warn("Failed to persist record", "op", op, "id", id, "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Syncer) OnAdmit(rec record.Record) { s.sync("admit", rec, false) }

func (s *Syncer) OnAccess(rec record.Record) { s.sync("access", rec, false) }

func (s *Syncer) OnPromote(rec record.Record, _ tier.Ordinal) { s.sync("promote", rec, false) }

func (s *Syncer) OnEvict(rec record.Record, reason store.EvictReason) {
	s.sync("evict_"+reason.String(), rec, true)
}
