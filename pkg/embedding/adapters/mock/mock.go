package mock

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/lexlapax/omegamem/pkg/embedding"
	"github.com/lexlapax/omegamem/pkg/log"
)

// DefaultDimension is used when New is given a non-positive dimension.
const DefaultDimension = 64

// MockEmbedder produces deterministic embeddings by hashing words into a
// fixed number of signed buckets. Texts sharing words get similar vectors,
// which is enough to exercise recall without a model.
type MockEmbedder struct {
	dimension int

	mu    sync.Mutex
	calls int
	err   error
}

var _ embedding.Embedder = (*MockEmbedder)(nil)

// New creates a mock embedder.
func New(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	log.Debug("Initialized mock embedder", "dimension", dimension)
	return &MockEmbedder{dimension: dimension}
}

// SetError makes subsequent calls fail with err. nil clears it.
func (m *MockEmbedder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times GenerateEmbeddings has been called.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Dimension implements embedding.Embedder.
func (m *MockEmbedder) Dimension() int { return m.dimension }

// GenerateEmbeddings implements embedding.Embedder.
func (m *MockEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.embed(text)
	}
	return out, nil
}

func (m *MockEmbedder) embed(text string) []float32 {
	v := make([]float32, m.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		h := xxhash.Sum64String(w)
		bucket := h % uint64(m.dimension)
		if h&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// every word cancelled out; fall back to one bucket so the vector
		// is never degenerate
		v[xxhash.Sum64String(text)%uint64(m.dimension)] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
