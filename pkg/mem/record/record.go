// Package record defines the unit of storage: an observed fact or event with
// its embedding, importance and access history.
package record

import (
	"time"

	"github.com/google/uuid"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// ID uniquely identifies a record. It never changes.
type ID string

// NewID returns a fresh random identifier.
func NewID() ID {
	return ID(uuid.New().String())
}

// Record is one memory. The store owns every Record; callers only ever see
// copies returned by Clone.
type Record struct {
	ID          ID           `json:"id"`
	Content     Content      `json:"content"`
	Embedding   []float32    `json:"embedding"`
	Importance  float64      `json:"importance"`
	CreatedAt   time.Time    `json:"created_at"`
	LastAccess  time.Time    `json:"last_access"`
	AccessCount uint64       `json:"access_count"`
	Tier        tier.Ordinal `json:"tier"`
}

// New creates a record in tier 1 with creation and last-access set to now.
func New(content Content, embedding []float32, importance float64, now time.Time) *Record {
	return &Record{
		ID:         NewID(),
		Content:    content,
		Embedding:  append([]float32(nil), embedding...),
		Importance: importance,
		CreatedAt:  now,
		LastAccess: now,
		Tier:       tier.Instant,
	}
}

// Touch records an access at now.
func (r *Record) Touch(now time.Time) {
	r.AccessCount++
	if now.After(r.LastAccess) {
		r.LastAccess = now
	}
}

// Clone returns an independent copy.
func (r *Record) Clone() Record {
	cp := *r
	cp.Content = r.Content.Clone()
	cp.Embedding = append([]float32(nil), r.Embedding...)
	return cp
}

// Less orders records by creation time, then ID. Used wherever a
// deterministic iteration order is needed.
func Less(a, b *Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
