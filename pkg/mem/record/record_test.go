package record

import (
	"testing"
	"time"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	emb := []float32{1, 2, 3}

	rec := New(Text("hello"), emb, 0.5, now)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, tier.Instant, rec.Tier)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.LastAccess)
	assert.Zero(t, rec.AccessCount)

	// the embedding is copied
	emb[0] = 42
	assert.Equal(t, float32(1), rec.Embedding[0])
}

func TestTouch(t *testing.T) {
	now := time.Unix(1000, 0)
	rec := New(Text("x"), []float32{1}, 0.1, now)

	rec.Touch(now.Add(time.Second))
	rec.Touch(now.Add(-time.Hour))

	assert.Equal(t, uint64(2), rec.AccessCount)
	assert.Equal(t, now.Add(time.Second), rec.LastAccess)
}

func TestClone(t *testing.T) {
	rec := New(Structured(map[string]interface{}{"k": "v"}), []float32{1, 2}, 0.3, time.Unix(0, 0))

	cp := rec.Clone()
	cp.Embedding[0] = 9
	cp.Content.Structured["k"] = "changed"

	assert.Equal(t, float32(1), rec.Embedding[0])
	assert.Equal(t, "v", rec.Content.Structured["k"])
}

func TestContentValidate(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{name: "text", content: Text("a")},
		{name: "structured", content: Structured(map[string]interface{}{"a": 1})},
		{name: "reference", content: Reference("s3://bucket/key")},
		{name: "sensory", content: Sensory([]byte{1, 2})},
		{name: "empty text", content: Text(""), wantErr: true},
		{name: "empty reference", content: Reference(""), wantErr: true},
		{name: "empty sensory", content: Sensory(nil), wantErr: true},
		{name: "zero value", content: Content{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidInput))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestContentSummary(t *testing.T) {
	assert.Equal(t, "hello", Text("hello").Summary(0))
	assert.Equal(t, "ref:doc://1", Reference("doc://1").Summary(0))
	assert.Equal(t, "sensory:3 bytes", Sensory([]byte{1, 2, 3}).Summary(0))
	assert.Equal(t, `{"a":1}`, Structured(map[string]interface{}{"a": 1}).Summary(0))
	assert.Equal(t, "abcdefg...", Text("abcdefghijklmnop").Summary(10))
}

func TestLess(t *testing.T) {
	t0 := time.Unix(100, 0)
	a := &Record{ID: "b", CreatedAt: t0}
	b := &Record{ID: "a", CreatedAt: t0.Add(time.Second)}
	c := &Record{ID: "a", CreatedAt: t0}

	assert.True(t, Less(a, b))
	assert.True(t, Less(c, a))
	assert.False(t, Less(a, c))
}
