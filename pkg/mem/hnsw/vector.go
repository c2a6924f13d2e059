package hnsw

import (
	"math"

	"github.com/lexlapax/omegamem/pkg/errors"
)

// normalize returns a unit-length copy of v. A zero or non-finite vector has
// no direction, so cosine similarity against it is undefined.
func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, errors.ErrDegenerateEmbedding
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// distance is 1 - cosine similarity for unit vectors.
func distance(a, b []float32) float32 {
	return float32(1 - dot(a, b))
}

// unitTolerance absorbs the rounding left by normalizing in float32, so a
// vector compared with itself scores exactly 1.
const unitTolerance = 1e-6

func similarity(dist float32) float32 {
	s := 1 - dist
	switch {
	case s >= 1-unitTolerance:
		return 1
	case s <= -1+unitTolerance:
		return -1
	default:
		return s
	}
}

// Cosine returns the cosine similarity of a and b. It fails with
// ErrDimensionMismatch on unequal lengths and ErrDegenerateEmbedding when
// either vector has zero magnitude.
func Cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, errors.NewDimensionMismatch(len(a), len(b))
	}
	ua, err := normalize(a)
	if err != nil {
		return 0, err
	}
	ub, err := normalize(b)
	if err != nil {
		return 0, err
	}
	return similarity(distance(ua, ub)), nil
}
