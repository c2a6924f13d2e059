package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// SampleRecords returns one record of every content kind, spread over a few
// tiers, with embeddings of length dim.
func SampleRecords(dim int, created time.Time) []record.Record {
	contents := []record.Content{
		record.Text("the deploy finished at noon"),
		record.Structured(map[string]interface{}{"service": "api", "latency_ms": 42.0}),
		record.Reference("s3://bucket/trace-17.json"),
		record.Sensory([]byte{0x01, 0x02, 0xff}),
	}
	tiers := []tier.Ordinal{tier.Instant, tier.Session, tier.Episodic, tier.Omega}
	vectors := RandomVectors(int64(dim), len(contents), dim)

	recs := make([]record.Record, len(contents))
	for i, c := range contents {
		r := record.New(c, vectors[i], 0.2*float64(i+1), created.Add(time.Duration(i)*time.Second))
		r.Tier = tiers[i]
		r.AccessCount = uint64(i)
		r.LastAccess = r.CreatedAt.Add(time.Minute)
		recs[i] = *r
	}
	return recs
}

// AssertRecordsEqual compares records field by field, treating timestamps
// as equal when they denote the same instant.
func AssertRecordsEqual(t *testing.T, want, got record.Record) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.Embedding, got.Embedding)
	assert.Equal(t, want.Importance, got.Importance)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.LastAccess.Equal(got.LastAccess), "last_access %s != %s", want.LastAccess, got.LastAccess)
	assert.Equal(t, want.AccessCount, got.AccessCount)
	assert.Equal(t, want.Tier, got.Tier)
}
