package store

import (
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// EvictReason says why a record left the store.
type EvictReason int

const (
	// EvictLowScore is a consolidation eviction below the tier threshold.
	EvictLowScore EvictReason = iota + 1
	// EvictDisplaced is a capacity eviction by a stronger incoming record.
	EvictDisplaced
)

func (r EvictReason) String() string {
	switch r {
	case EvictLowScore:
		return "low_score"
	case EvictDisplaced:
		return "displaced"
	default:
		return "unknown"
	}
}

// Listener observes record lifecycle events. Callbacks receive copies and
// run after the store has released its locks, so they may call back into
// the store.
type Listener interface {
	OnAdmit(rec record.Record)
	OnAccess(rec record.Record)
	OnPromote(rec record.Record, from tier.Ordinal)
	OnEvict(rec record.Record, reason EvictReason)
}

// Listeners fans events out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnAdmit(rec record.Record) {
	for _, l := range ls {
		l.OnAdmit(rec)
	}
}

func (ls Listeners) OnAccess(rec record.Record) {
	for _, l := range ls {
		l.OnAccess(rec)
	}
}

func (ls Listeners) OnPromote(rec record.Record, from tier.Ordinal) {
	for _, l := range ls {
		l.OnPromote(rec, from)
	}
}

func (ls Listeners) OnEvict(rec record.Record, reason EvictReason) {
	for _, l := range ls {
		l.OnEvict(rec, reason)
	}
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnAdmit(record.Record) {}
func (NopListener) OnAccess(record.Record) {}
func (NopListener) OnPromote(record.Record, tier.Ordinal) {}
func (NopListener) OnEvict(record.Record, EvictReason) {}
