// Package tier defines the twelve-level freshness hierarchy and the
// per-tier retention policy (capacity, half-life, promotion and eviction
// thresholds).
package tier

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Ordinal identifies a tier, from 1 (Instant) to 12 (Omega).
type Ordinal uint8

// The twelve tiers, shortest-lived first.
const (
	Instant Ordinal = iota + 1
	Session
	Episodic
	Semantic
	Collective
	Evolutionary
	Architectural
	Substrate
	Civilizational
	Temporal
	Physical
	Omega
)

// Count is the number of tiers.
const Count = int(Omega)

// Infinite is the half-life of a tier that never decays.
const Infinite time.Duration = math.MaxInt64

// Scale groups tiers into individual, species and cosmic bands.
type Scale int

const (
	// Individual covers tiers 1-4.
	Individual Scale = iota
	// Species covers tiers 5-8.
	Species
	// Cosmic covers tiers 9-12.
	Cosmic
)

func (s Scale) String() string {
	switch s {
	case Individual:
		return "individual"
	case Species:
		return "species"
	case Cosmic:
		return "cosmic"
	default:
		return fmt.Sprintf("scale(%d)", int(s))
	}
}

var names = [...]string{
	Instant:        "Instant",
	Session:        "Session",
	Episodic:       "Episodic",
	Semantic:       "Semantic",
	Collective:     "Collective",
	Evolutionary:   "Evolutionary",
	Architectural:  "Architectural",
	Substrate:      "Substrate",
	Civilizational: "Civilizational",
	Temporal:       "Temporal",
	Physical:       "Physical",
	Omega:          "Omega",
}

// Valid reports whether o is within 1..12.
func (o Ordinal) Valid() bool {
	return o >= Instant && o <= Omega
}

// Name returns the tier's short name, e.g. "Episodic".
func (o Ordinal) Name() string {
	if !o.Valid() {
		return "Unknown"
	}
	return names[o]
}

// String renders the tier as "Episodic (T3)".
func (o Ordinal) String() string {
	return fmt.Sprintf("%s (T%d)", o.Name(), uint8(o))
}

// Terminal reports whether o is the last tier.
func (o Ordinal) Terminal() bool {
	return o == Omega
}

// Next returns the tier records are promoted into, and false for Omega.
func (o Ordinal) Next() (Ordinal, bool) {
	if !o.Valid() || o.Terminal() {
		return 0, false
	}
	return o + 1, true
}

// Scale returns the band the tier belongs to.
func (o Ordinal) Scale() Scale {
	switch {
	case o <= Semantic:
		return Individual
	case o <= Substrate:
		return Species
	default:
		return Cosmic
	}
}

// All returns every tier, ascending.
func All() []Ordinal {
	out := make([]Ordinal, 0, Count)
	for o := Instant; o <= Omega; o++ {
		out = append(out, o)
	}
	return out
}

// Parse converts a number or a name into an Ordinal.
func Parse(s string) (Ordinal, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > Count {
			return 0, fmt.Errorf("tier ordinal %d out of range 1..%d", n, Count)
		}
		return Ordinal(n), nil
	}
	for o := Instant; o <= Omega; o++ {
		if strings.EqualFold(names[o], s) {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}
