package testutil

import "math/rand"

// RandomVectors returns n vectors of length dim with components in [-1, 1),
// generated deterministically from seed.
func RandomVectors(seed int64, n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

// Axis returns a unit vector of length dim along axis i, with tail added to
// the last coordinate. Useful for building nearly identical embeddings.
func Axis(dim, i int, tail float32) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	v[dim-1] += tail
	return v
}
