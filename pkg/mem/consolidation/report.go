package consolidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// TierReport counts what happened in one tier during a pass. Resident is
// the tier's population after the pass.
type TierReport struct {
	Tier      tier.Ordinal `json:"tier"`
	Scanned   int          `json:"scanned"`
	Promoted  int          `json:"promoted"`
	Evicted   int          `json:"evicted"`
	Displaced int          `json:"displaced"`
	Resident  int          `json:"resident"`
}

// Anomaly is a record whose transition could not be applied. The record is
// left where it was.
type Anomaly struct {
	RecordID record.ID    `json:"record_id"`
	Tier     tier.Ordinal `json:"tier"`
	Err      error        `json:"-"`
	Message  string       `json:"error"`
}

// Report summarizes one consolidation pass.
type Report struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Promoted    int           `json:"promoted"`
	Evicted     int           `json:"evicted"`
	Displaced   int           `json:"displaced"`
	PerTier     []TierReport  `json:"per_tier"`
	Anomalies   []Anomaly     `json:"anomalies,omitempty"`
	PromotedIDs []record.ID   `json:"promoted_ids,omitempty"`
	EvictedIDs  []record.ID   `json:"evicted_ids,omitempty"`
	Compacted   bool          `json:"compacted"`
}

// Tier returns the per-tier entry for o.
func (r Report) Tier(o tier.Ordinal) TierReport {
	if o.Valid() && int(o) <= len(r.PerTier) {
		return r.PerTier[o-1]
	}
	return TierReport{Tier: o}
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "promoted=%d evicted=%d displaced=%d anomalies=%d compacted=%t in %s",
		r.Promoted, r.Evicted, r.Displaced, len(r.Anomalies), r.Compacted, r.Duration)
	for _, t := range r.PerTier {
		if t.Resident == 0 && t.Scanned == 0 && t.Displaced == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n  %-28s resident=%d promoted=%d evicted=%d displaced=%d",
			t.Tier.String(), t.Resident, t.Promoted, t.Evicted, t.Displaced)
	}
	return b.String()
}
