package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/omegamem/pkg/errors"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
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

func newIndex(t *testing.T, dim int) *Index {
	t.Helper()
	ix, err := New(dim, func(o *Options) { o.Seed = 7 })
	require.NoError(t, err)
	return ix
}

func bruteForce(vectors [][]float32, live map[int]bool, q []float32, k int) []string {
	type scored struct {
		key string
		i   int
		sim float32
	}
	var all []scored
	for i, v := range vectors {
		if !live[i] {
			continue
		}
		s, _ := Cosine(q, v)
		all = append(all, scored{fmt.Sprint(i), i, s})
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].sim != all[b].sim {
			return all[a].sim > all[b].sim
		}
		return all[a].i < all[b].i
	})
	if len(all) > k {
		all = all[:k]
	}
	keys := make([]string, len(all))
	for i, s := range all {
		keys[i] = s.key
	}
	return keys
}

func TestNewRejectsBadDimension(t *testing.T) {
	_, err := New(0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestNewClampsOptions(t *testing.T) {
	ix, err := New(4, WithOptions(Options{M: 1, EfConstruction: 0, EfSearch: -1, Seed: 1}))
	require.NoError(t, err)

	opts := ix.Options()
	assert.Equal(t, minimumM, opts.M)
	assert.Equal(t, minimumM, opts.EfConstruction)
	assert.Equal(t, DefaultEfSearch, opts.EfSearch)
}

func TestSelfMatch(t *testing.T) {
	ix := newIndex(t, 8)
	vectors := randomVectors(rand.New(rand.NewSource(1)), 50, 8)
	for i, v := range vectors {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}

	for i, v := range vectors {
		res, err := ix.Search(v, 1, 64)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, fmt.Sprint(i), res[0].Key)
		assert.Equal(t, float32(1), res[0].Similarity)
	}
}

func TestSimilarityRange(t *testing.T) {
	ix := newIndex(t, 2)
	require.NoError(t, ix.Insert("east", []float32{1, 0}))
	require.NoError(t, ix.Insert("north", []float32{0, 3}))
	require.NoError(t, ix.Insert("west", []float32{-2, 0}))

	res, err := ix.Search([]float32{5, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "east", res[0].Key)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-6)
	assert.Equal(t, "north", res[1].Key)
	assert.InDelta(t, 0.0, res[1].Similarity, 1e-6)
	assert.Equal(t, "west", res[2].Key)
	assert.InDelta(t, -1.0, res[2].Similarity, 1e-6)
}

func TestInputValidation(t *testing.T) {
	ix := newIndex(t, 3)

	err := ix.Insert("a", []float32{1, 2})
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))
	var dm *errors.DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	err = ix.Insert("a", []float32{0, 0, 0})
	assert.True(t, errors.Is(err, errors.ErrDegenerateEmbedding))

	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, ix.Stats().Nodes)

	require.NoError(t, ix.Insert("a", []float32{1, 0, 0}))
	err = ix.Insert("a", []float32{0, 1, 0})
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))
	assert.EqualError(t, err, "hnsw: key a: duplicate key")

	_, err = ix.Search([]float32{1}, 1, 0)
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))
	_, err = ix.Search([]float32{0, 0, 0}, 1, 0)
	assert.True(t, errors.Is(err, errors.ErrDegenerateEmbedding))
	_, err = ix.Search([]float32{1, 0, 0}, 0, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestEmptyIndex(t *testing.T) {
	ix := newIndex(t, 2)
	_, err := ix.Search([]float32{1, 0}, 1, 0)
	assert.True(t, errors.Is(err, errors.ErrEmptyIndex))

	require.NoError(t, ix.Insert("a", []float32{1, 0}))
	require.NoError(t, ix.Tombstone("a"))
	_, err = ix.Search([]float32{1, 0}, 1, 0)
	assert.True(t, errors.Is(err, errors.ErrEmptyIndex))
}

func TestSearchReturnsAtMostK(t *testing.T) {
	ix := newIndex(t, 2)
	require.NoError(t, ix.Insert("a", []float32{1, 0}))
	require.NoError(t, ix.Insert("b", []float32{0, 1}))

	res, err := ix.Search([]float32{1, 1}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	ix := newIndex(t, 3)
	for _, key := range []string{"first", "second", "third"} {
		require.NoError(t, ix.Insert(key, []float32{1, 1, 0}))
	}

	res, err := ix.Search([]float32{1, 1, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "first", res[0].Key)
	assert.Equal(t, "second", res[1].Key)
	assert.Equal(t, "third", res[2].Key)
}

func TestTombstone(t *testing.T) {
	ix := newIndex(t, 4)
	vectors := randomVectors(rand.New(rand.NewSource(2)), 100, 4)
	for i, v := range vectors {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}

	for i := 0; i < 100; i += 2 {
		require.NoError(t, ix.Tombstone(fmt.Sprint(i)))
	}
	assert.Equal(t, 50, ix.Len())
	assert.InDelta(t, 0.5, ix.TombstoneRatio(), 1e-9)
	assert.False(t, ix.Contains("0"))
	assert.True(t, ix.Contains("1"))

	err := ix.Tombstone("0")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	for i := 0; i < 100; i += 2 {
		res, err := ix.Search(vectors[i], 10, 100)
		require.NoError(t, err)
		for _, r := range res {
			assert.NotEqual(t, fmt.Sprint(i), r.Key)
		}
	}

	// a tombstoned key may be reused
	require.NoError(t, ix.Insert("0", vectors[0]))
	res, err := ix.Search(vectors[0], 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", res[0].Key)
}

func TestRecallAgainstBruteForce(t *testing.T) {
	const (
		n   = 600
		dim = 16
		k   = 10
	)
	rng := rand.New(rand.NewSource(3))
	vectors := randomVectors(rng, n, dim)
	ix := newIndex(t, dim)
	live := make(map[int]bool, n)
	for i, v := range vectors {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
		live[i] = true
	}
	for i := 0; i < n; i += 5 {
		require.NoError(t, ix.Tombstone(fmt.Sprint(i)))
		live[i] = false
	}

	queries := randomVectors(rng, 50, dim)
	hits, total := 0, 0
	for _, q := range queries {
		want := bruteForce(vectors, live, q, k)
		res, err := ix.Search(q, k, 128)
		require.NoError(t, err)
		got := make(map[string]bool, len(res))
		for _, r := range res {
			got[r.Key] = true
		}
		for _, key := range want {
			if got[key] {
				hits++
			}
		}
		total += len(want)
	}
	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d", k)
}

func TestNeighborListsBounded(t *testing.T) {
	ix, err := New(8, WithOptions(Options{M: 4, EfConstruction: 32, EfSearch: 16, Seed: 5}))
	require.NoError(t, err)
	for i, v := range randomVectors(rand.New(rand.NewSource(4)), 300, 8) {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, n := range ix.g.nodes {
		for l, links := range n.links {
			assert.LessOrEqual(t, len(links), 4, "layer %d", l)
			for _, nb := range links {
				assert.GreaterOrEqual(t, ix.g.nodes[nb].level(), l)
			}
		}
	}
}

func TestCompact(t *testing.T) {
	ix := newIndex(t, 8)
	vectors := randomVectors(rand.New(rand.NewSource(5)), 200, 8)
	for i, v := range vectors {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}
	for i := 0; i < 200; i += 3 {
		require.NoError(t, ix.Tombstone(fmt.Sprint(i)))
	}
	liveBefore := ix.Len()

	require.NoError(t, ix.Compact(context.Background()))

	stats := ix.Stats()
	assert.Equal(t, liveBefore, stats.Live)
	assert.Equal(t, liveBefore, stats.Nodes)
	assert.Equal(t, 0, stats.Tombstoned)
	assert.Equal(t, 0.0, ix.TombstoneRatio())

	for i := 1; i < 200; i += 3 {
		res, err := ix.Search(vectors[i], 1, 64)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), res[0].Key)
	}
}

func TestCompactNoTombstonesIsNoop(t *testing.T) {
	ix := newIndex(t, 2)
	require.NoError(t, ix.Insert("a", []float32{1, 0}))
	require.NoError(t, ix.Compact(context.Background()))
	assert.Equal(t, 1, ix.Stats().Nodes)
}

func TestCompactCancelledKeepsGraph(t *testing.T) {
	ix := newIndex(t, 4)
	for i, v := range randomVectors(rand.New(rand.NewSource(6)), 100, 4) {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}
	require.NoError(t, ix.Tombstone("10"))
	before := ix.Stats()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ix.Compact(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	after := ix.Stats()
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Tombstoned, after.Tombstoned)
	assert.Equal(t, before.Live, after.Live)
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	const dim = 8
	ix := newIndex(t, dim)
	seed := randomVectors(rand.New(rand.NewSource(8)), 20, dim)
	for i, v := range seed {
		require.NoError(t, ix.Insert(fmt.Sprintf("seed-%d", i), v))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			vs := randomVectors(rand.New(rand.NewSource(int64(100+w))), 50, dim)
			for i, v := range vs {
				assert.NoError(t, ix.Insert(fmt.Sprintf("w%d-%d", w, i), v))
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			qs := randomVectors(rand.New(rand.NewSource(int64(200+w))), 50, dim)
			for _, q := range qs {
				res, err := ix.Search(q, 5, 0)
				assert.NoError(t, err)
				assert.NotEmpty(t, res)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = ix.Tombstone(fmt.Sprintf("seed-%d", i))
			assert.NoError(t, ix.Compact(context.Background()))
		}
	}()
	wg.Wait()

	assert.Equal(t, 20+4*50-10, ix.Len())
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{2, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(1), s)

	for _, v := range randomVectors(rand.New(rand.NewSource(11)), 20, 384) {
		neg := make([]float32, len(v))
		for i, x := range v {
			neg[i] = -x
		}
		s, err = Cosine(v, v)
		require.NoError(t, err)
		assert.Equal(t, float32(1), s)
		s, err = Cosine(v, neg)
		require.NoError(t, err)
		assert.Equal(t, float32(-1), s)
	}

	s, err = Cosine([]float32{1, 0}, []float32{1, 0.01})
	require.NoError(t, err)
	assert.Less(t, s, float32(1))

	_, err = Cosine([]float32{1}, []float32{1, 0})
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))

	_, err = Cosine([]float32{0, 0}, []float32{1, 0})
	assert.True(t, errors.Is(err, errors.ErrDegenerateEmbedding))
}

func TestStatsLevels(t *testing.T) {
	ix := newIndex(t, 4)
	assert.Equal(t, -1, ix.Stats().MaxLevel)

	for i, v := range randomVectors(rand.New(rand.NewSource(9)), 500, 4) {
		require.NoError(t, ix.Insert(fmt.Sprint(i), v))
	}
	stats := ix.Stats()
	require.NotEmpty(t, stats.Levels)
	assert.Equal(t, 500, stats.Levels[0].Nodes)
	assert.Greater(t, stats.Levels[0].AvgConnections, 0.0)
	for l := 1; l < len(stats.Levels); l++ {
		assert.LessOrEqual(t, stats.Levels[l].Nodes, stats.Levels[l-1].Nodes)
	}
}
