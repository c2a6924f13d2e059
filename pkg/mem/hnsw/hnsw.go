package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/lexlapax/omegamem/pkg/errors"
)

const (
	// DefaultM is the default number of neighbors kept per node per layer.
	DefaultM = 16
	// DefaultEfConstruction is the default candidate list size during insertion.
	DefaultEfConstruction = 200
	// DefaultEfSearch is the default candidate list size during search.
	DefaultEfSearch = 64

	minimumM      = 2
	maxLevelLimit = 16

	// compaction re-checks its context every this many nodes
	compactCheckInterval = 64
)

// ErrDuplicateKey is returned when inserting a key that is already live.
var ErrDuplicateKey = errors.ErrDuplicateKey

// Options configures an Index.
type Options struct {
	M              int   `yaml:"m"`
	EfConstruction int   `yaml:"ef_construction"`
	EfSearch       int   `yaml:"ef_search"`
	Seed           int64 `yaml:"seed"` // 0 seeds from the clock
}

// DefaultOptions returns the index defaults.
func DefaultOptions() Options {
	return Options{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
	}
}

// Result is one search hit.
type Result struct {
	Key string
	// Similarity is cosine similarity in [-1,1]. Values within 1e-6 of
	// either bound are reported as the bound.
	Similarity float32
}

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level          int
	Nodes          int
	AvgConnections float64
}

// Stats is a point-in-time description of the index.
type Stats struct {
	Dimension  int
	M          int
	Nodes      int
	Live       int
	Tombstoned int
	MaxLevel   int
	Levels     []LevelStats
}

type node struct {
	key   string
	vec   []float32
	links [][]uint32
}

func (n *node) level() int { return len(n.links) - 1 }

type graph struct {
	nodes      []*node
	keys       map[string]uint32 // live keys only
	tombstones *roaring.Bitmap
	entry      uint32
	maxLevel   int
}

func newGraph(capacity int) *graph {
	return &graph{
		nodes:      make([]*node, 0, capacity),
		keys:       make(map[string]uint32, capacity),
		tombstones: roaring.New(),
		maxLevel:   -1,
	}
}

func (g *graph) empty() bool { return len(g.nodes) == 0 }

func (g *graph) live(id uint32) bool { return !g.tombstones.Contains(id) }

// Index is an HNSW graph over unit vectors of a fixed dimension.
type Index struct {
	mu   sync.RWMutex
	dim  int
	opts Options
	ml   float64
	rng  *rand.Rand
	g    *graph
}

// New creates an empty index for vectors of length dim.
func New(dim int, optFns ...func(o *Options)) (*Index, error) {
	if dim <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "hnsw: dimension must be positive, got %d", dim)
	}
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EfConstruction < opts.M {
		opts.EfConstruction = opts.M
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = DefaultEfSearch
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Index{
		dim:  dim,
		opts: opts,
		ml:   1 / math.Log(float64(opts.M)),
		rng:  rand.New(rand.NewSource(seed)),
		g:    newGraph(0),
	}, nil
}

// WithOptions replaces every option at once.
func WithOptions(o Options) func(*Options) {
	return func(dst *Options) { *dst = o }
}

// Dimension returns the vector length the index accepts.
func (ix *Index) Dimension() int { return ix.dim }

// Options returns the effective options.
func (ix *Index) Options() Options { return ix.opts }

// Check validates v without touching the index.
func (ix *Index) Check(v []float32) error {
	_, err := ix.prepare(v)
	return err
}

func (ix *Index) prepare(v []float32) ([]float32, error) {
	if len(v) != ix.dim {
		return nil, errors.NewDimensionMismatch(ix.dim, len(v))
	}
	return normalize(v)
}

// Insert adds a vector under key. The key must not already be live.
func (ix *Index) Insert(key string, v []float32) error {
	vec, err := ix.prepare(v)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.g.keys[key]; ok {
		return errors.Wrap(ErrDuplicateKey, "hnsw: key %s", key)
	}
	ix.insert(ix.g, key, vec)
	return nil
}

func (ix *Index) randomLevel() int {
	level := int(math.Floor(-math.Log(1-ix.rng.Float64()) * ix.ml))
	if level > maxLevelLimit {
		level = maxLevelLimit
	}
	return level
}

// insert links a normalized vector into g. Caller holds the write lock.
func (ix *Index) insert(g *graph, key string, vec []float32) {
	level := ix.randomLevel()
	id := uint32(len(g.nodes))
	n := &node{key: key, vec: vec, links: make([][]uint32, level+1)}
	g.nodes = append(g.nodes, n)
	g.keys[key] = id

	if g.maxLevel < 0 {
		g.entry = id
		g.maxLevel = level
		return
	}

	ep := g.entry
	epDist := distance(vec, g.nodes[ep].vec)
	for l := g.maxLevel; l > level; l-- {
		ep, epDist = g.greedy(vec, ep, epDist, l)
	}

	top := level
	if g.maxLevel < top {
		top = g.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := g.searchLayer(vec, ep, epDist, ix.opts.EfConstruction, l, false)
		n.links[l] = g.selectNeighbors(cands, ix.opts.M)
		for _, nb := range n.links[l] {
			g.link(nb, id, l, ix.opts.M)
		}
		if len(cands) > 0 {
			ep, epDist = cands[0].id, cands[0].dist
		}
	}

	if level > g.maxLevel {
		g.entry = id
		g.maxLevel = level
	}
}

// greedy walks a single layer toward q, one improving hop at a time.
func (g *graph) greedy(q []float32, ep uint32, epDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		n := g.nodes[ep]
		if level > n.level() {
			break
		}
		for _, nb := range n.links[level] {
			d := distance(q, g.nodes[nb].vec)
			if closer(candidate{nb, d}, candidate{ep, epDist}) {
				ep, epDist = nb, d
				changed = true
			}
		}
	}
	return ep, epDist
}

// searchLayer runs a best-first beam search of width ef on one layer. With
// liveOnly set, tombstoned nodes are traversed but never returned.
func (g *graph) searchLayer(q []float32, ep uint32, epDist float32, ef, level int, liveOnly bool) []candidate {
	visited := bitset.New(uint(len(g.nodes)))
	visited.Set(uint(ep))

	frontier := newQueue(false, ef)
	results := newQueue(true, ef+1)
	frontier.push(candidate{ep, epDist})
	if !liveOnly || g.live(ep) {
		results.push(candidate{ep, epDist})
	}

	for frontier.Len() > 0 {
		c := frontier.pop()
		if results.Len() >= ef && closer(results.top(), c) {
			break
		}
		n := g.nodes[c.id]
		if level > n.level() {
			continue
		}
		for _, nb := range n.links[level] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))
			cand := candidate{nb, distance(q, g.nodes[nb].vec)}
			if results.Len() < ef || closer(cand, results.top()) {
				frontier.push(cand)
				if !liveOnly || g.live(nb) {
					results.push(cand)
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}
	return results.sorted()
}

// selectNeighbors picks up to m neighbors from candidates sorted closest
// first. Live nodes are chosen with the diversity heuristic; pruned live
// nodes and then tombstoned nodes only fill leftover slots.
func (g *graph) selectNeighbors(cands []candidate, m int) []uint32 {
	selected := make([]candidate, 0, m)
	var pruned, dead []candidate
	for _, c := range cands {
		if !g.live(c.id) {
			dead = append(dead, c)
			continue
		}
		if len(selected) >= m {
			continue
		}
		diverse := true
		for _, s := range selected {
			if distance(g.nodes[c.id].vec, g.nodes[s.id].vec) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, fill := range [][]candidate{pruned, dead} {
		for _, c := range fill {
			if len(selected) >= m {
				break
			}
			selected = append(selected, c)
		}
	}

	out := make([]uint32, len(selected))
	for i, c := range selected {
		out[i] = c.id
	}
	return out
}

// link adds a directed edge from -> to on level, shrinking from's list back
// to m when it overflows.
func (g *graph) link(from, to uint32, level, m int) {
	n := g.nodes[from]
	for _, existing := range n.links[level] {
		if existing == to {
			return
		}
	}
	n.links[level] = append(n.links[level], to)
	if len(n.links[level]) <= m {
		return
	}
	cands := make([]candidate, len(n.links[level]))
	for i, id := range n.links[level] {
		cands[i] = candidate{id, distance(n.vec, g.nodes[id].vec)}
	}
	sort.Slice(cands, func(i, j int) bool { return closer(cands[i], cands[j]) })
	n.links[level] = g.selectNeighbors(cands, m)
}

// Search returns up to k live keys most similar to q, most similar first.
// ef widens the beam; values below k are raised to k and values <= 0 use
// the configured EfSearch. No backfill happens when fewer than k are found.
func (ix *Index) Search(q []float32, k, ef int) ([]Result, error) {
	if k <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "hnsw: k must be positive, got %d", k)
	}
	vec, err := ix.prepare(q)
	if err != nil {
		return nil, err
	}
	if ef <= 0 {
		ef = ix.opts.EfSearch
	}
	if ef < k {
		ef = k
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	g := ix.g
	if len(g.keys) == 0 {
		return nil, errors.ErrEmptyIndex
	}

	ep := g.entry
	epDist := distance(vec, g.nodes[ep].vec)
	for l := g.maxLevel; l > 0; l-- {
		ep, epDist = g.greedy(vec, ep, epDist, l)
	}
	found := g.searchLayer(vec, ep, epDist, ef, 0, true)
	if len(found) > k {
		found = found[:k]
	}

	out := make([]Result, len(found))
	for i, c := range found {
		out[i] = Result{Key: g.nodes[c.id].key, Similarity: similarity(c.dist)}
	}
	return out, nil
}

// Tombstone marks key deleted. Its node stays in the graph as a hop until
// the next Compact.
func (ix *Index) Tombstone(key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id, ok := ix.g.keys[key]
	if !ok {
		return errors.Wrap(errors.ErrNotFound, "hnsw: key %s", key)
	}
	delete(ix.g.keys, key)
	ix.g.tombstones.Add(id)
	return nil
}

// Contains reports whether key is live.
func (ix *Index) Contains(key string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.g.keys[key]
	return ok
}

// Len returns the number of live keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.g.keys)
}

// TombstoneRatio returns tombstoned nodes over all nodes, 0 when empty.
func (ix *Index) TombstoneRatio() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.g.empty() {
		return 0
	}
	return float64(ix.g.tombstones.GetCardinality()) / float64(len(ix.g.nodes))
}

// Compact rebuilds the graph from live nodes only, in their original
// insertion order. If ctx is cancelled mid-rebuild the existing graph is
// kept unchanged and ctx.Err() is returned.
func (ix *Index) Compact(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.g
	if old.tombstones.IsEmpty() {
		return nil
	}

	fresh := newGraph(len(old.keys))
	for id, n := range old.nodes {
		if id%compactCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !old.live(uint32(id)) {
			continue
		}
		ix.insert(fresh, n.key, n.vec)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.g = fresh
	return nil
}

// Stats describes the current graph.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	g := ix.g
	s := Stats{
		Dimension:  ix.dim,
		M:          ix.opts.M,
		Nodes:      len(g.nodes),
		Live:       len(g.keys),
		Tombstoned: int(g.tombstones.GetCardinality()),
		MaxLevel:   g.maxLevel,
	}
	if g.maxLevel < 0 {
		return s
	}
	s.Levels = make([]LevelStats, g.maxLevel+1)
	edges := make([]int, g.maxLevel+1)
	for _, n := range g.nodes {
		for l, links := range n.links {
			s.Levels[l].Nodes++
			edges[l] += len(links)
		}
	}
	for l := range s.Levels {
		s.Levels[l].Level = l
		if s.Levels[l].Nodes > 0 {
			s.Levels[l].AvgConnections = float64(edges[l]) / float64(s.Levels[l].Nodes)
		}
	}
	return s
}
