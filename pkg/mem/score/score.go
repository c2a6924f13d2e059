// Package score computes a record's retention score: importance decayed by
// the tier half-life, plus a small bounded bonus for repeated access.
package score

import (
	"fmt"
	"math"
	"time"

	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

const (
	// DefaultRecencyWeight is the weight of the access term.
	DefaultRecencyWeight = 0.1

	// DefaultAccessSaturation is the access count at which the access term maxes out.
	DefaultAccessSaturation = 10.0

	// MaxRecencyWeight keeps importance the dominant term.
	MaxRecencyWeight = 0.2
)

// Config holds the scoring constants.
type Config struct {
	RecencyWeight    float64 `yaml:"recency_weight"`
	AccessSaturation float64 `yaml:"access_saturation"`
}

// DefaultConfig returns the default scoring constants.
func DefaultConfig() Config {
	return Config{
		RecencyWeight:    DefaultRecencyWeight,
		AccessSaturation: DefaultAccessSaturation,
	}
}

// Validate checks the constants.
func (c Config) Validate() error {
	if c.RecencyWeight < 0 || c.RecencyWeight > MaxRecencyWeight || math.IsNaN(c.RecencyWeight) {
		return fmt.Errorf("recency weight %v outside [0,%v]", c.RecencyWeight, MaxRecencyWeight)
	}
	if !(c.AccessSaturation > 0) {
		return fmt.Errorf("access saturation must be positive, got %v", c.AccessSaturation)
	}
	return nil
}

// Scorer is stateless apart from its constants and the tier half-lives; it is
// safe for concurrent use.
type Scorer struct {
	cfg       Config
	halfLives [tier.Count]time.Duration
}

// New builds a Scorer from the scoring constants and the tier policy table.
func New(cfg Config, policies tier.Policies) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{cfg: cfg}
	for _, o := range tier.All() {
		hl := policies.For(o).HalfLife
		if o.Terminal() {
			hl = tier.Infinite
		}
		s.halfLives[o-1] = hl
	}
	return s, nil
}

// HalfLife returns the decay constant used for tier o.
func (s *Scorer) HalfLife(o tier.Ordinal) time.Duration {
	if !o.Valid() {
		return tier.Infinite
	}
	return s.halfLives[o-1]
}

// Score returns the record's retention score in [0,1] as of now. Age is
// measured from the last access, so a recall refreshes the decay clock.
func (s *Scorer) Score(rec *record.Record, now time.Time) float64 {
	return s.ScoreIn(rec, rec.Tier, now)
}

// ScoreIn scores rec as if it lived in tier o. Admission into a tier compares
// candidates under that tier's half-life.
func (s *Scorer) ScoreIn(rec *record.Record, o tier.Ordinal, now time.Time) float64 {
	age := now.Sub(rec.LastAccess)
	v := rec.Importance*Decay(age, s.HalfLife(o)) + s.accessTerm(rec.AccessCount)
	return clamp01(v)
}

func (s *Scorer) accessTerm(count uint64) float64 {
	if count == 0 {
		return 0
	}
	return s.cfg.RecencyWeight * math.Min(1, float64(count)/s.cfg.AccessSaturation)
}

// Decay returns 0.5^(age/halfLife). It is 1 at age 0 (and for negative ages),
// strictly decreasing for finite half-lives, and constantly 1 for
// tier.Infinite.
func Decay(age, halfLife time.Duration) float64 {
	if halfLife == tier.Infinite || age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
