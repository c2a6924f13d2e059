package tier

import (
	"fmt"
	"math"
	"time"
)

const year = 365 * 24 * time.Hour

// Policy is the fixed retention policy of one tier.
type Policy struct {
	// Capacity is the maximum number of resident records.
	Capacity int `yaml:"capacity"`

	// HalfLife is the decay time constant. Infinite disables decay.
	HalfLife time.Duration `yaml:"half_life"`

	// PromoteThreshold is the score at or above which a record moves to the next tier.
	PromoteThreshold float64 `yaml:"promote_threshold"`

	// EvictThreshold is the score below which a record is dropped.
	EvictThreshold float64 `yaml:"evict_threshold"`
}

// Decays reports whether records in this tier lose score over time.
func (p Policy) Decays() bool {
	return p.HalfLife != Infinite
}

// Policies holds one policy per ordinal.
type Policies [Count]Policy

// For returns the policy of ordinal o.
func (ps *Policies) For(o Ordinal) Policy {
	return ps[o-1]
}

// Set replaces the policy of ordinal o.
func (ps *Policies) Set(o Ordinal, p Policy) {
	ps[o-1] = p
}

// DefaultPolicies returns the built-in policy table. Capacities and half-lives
// grow with the ordinal; Omega never decays and never evicts.
func DefaultPolicies() Policies {
	return Policies{
		{Capacity: 1_000, HalfLife: time.Minute, PromoteThreshold: 0.60, EvictThreshold: 0.05},
		{Capacity: 10_000, HalfLife: 24 * time.Hour, PromoteThreshold: 0.65, EvictThreshold: 0.05},
		{Capacity: 100_000, HalfLife: 30 * 24 * time.Hour, PromoteThreshold: 0.70, EvictThreshold: 0.08},
		{Capacity: 1_000_000, HalfLife: year, PromoteThreshold: 0.75, EvictThreshold: 0.10},
		{Capacity: 2_000_000, HalfLife: 10 * year, PromoteThreshold: 0.80, EvictThreshold: 0.12},
		{Capacity: 2_000_000, HalfLife: 25 * year, PromoteThreshold: 0.85, EvictThreshold: 0.15},
		{Capacity: 2_000_000, HalfLife: 50 * year, PromoteThreshold: 0.88, EvictThreshold: 0.18},
		{Capacity: 2_000_000, HalfLife: 100 * year, PromoteThreshold: 0.90, EvictThreshold: 0.20},
		{Capacity: 4_000_000, HalfLife: 150 * year, PromoteThreshold: 0.93, EvictThreshold: 0.20},
		{Capacity: 4_000_000, HalfLife: 200 * year, PromoteThreshold: 0.96, EvictThreshold: 0.20},
		{Capacity: 4_000_000, HalfLife: 250 * year, PromoteThreshold: 0.99, EvictThreshold: 0.20},
		{Capacity: 8_000_000, HalfLife: Infinite, PromoteThreshold: math.Inf(1), EvictThreshold: 0},
	}
}

// Validate checks every policy. Omega is normalized to never decay and never
// evict regardless of what was configured.
func (ps *Policies) Validate() error {
	for _, o := range All() {
		p := ps.For(o)
		if p.Capacity < 1 {
			return fmt.Errorf("tier %s: capacity must be positive, got %d", o, p.Capacity)
		}
		if o.Terminal() {
			p.HalfLife = Infinite
			p.PromoteThreshold = math.Inf(1)
			p.EvictThreshold = 0
			ps.Set(o, p)
			continue
		}
		if p.HalfLife <= 0 {
			return fmt.Errorf("tier %s: half-life must be positive, got %s", o, p.HalfLife)
		}
		if p.EvictThreshold < 0 || p.EvictThreshold > 1 {
			return fmt.Errorf("tier %s: evict threshold %v outside [0,1]", o, p.EvictThreshold)
		}
		if p.PromoteThreshold < 0 || p.PromoteThreshold > 1 {
			return fmt.Errorf("tier %s: promote threshold %v outside [0,1]", o, p.PromoteThreshold)
		}
		if p.EvictThreshold >= p.PromoteThreshold {
			return fmt.Errorf("tier %s: evict threshold %v must be below promote threshold %v",
				o, p.EvictThreshold, p.PromoteThreshold)
		}
	}
	return nil
}
