package persist_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/persist/mock"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/test/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newSyncedStore(t *testing.T, p persist.Persister, onError func(error), ahead ...store.Listener) (*store.Store, *testutil.FixedClock) {
	t.Helper()
	cfg := store.DefaultConfig(4)
	cfg.Index.Seed = 3
	clock := testutil.NewFixedClock(epoch)

	var s *store.Store
	opts := []store.Option{store.WithClock(clock.Now), store.WithLogger(log.Discard())}
	for _, l := range ahead {
		opts = append(opts, store.WithListener(l))
	}
	lookup := func(id record.ID) (record.Record, error) { return s.Get(id) }
	opts = append(opts, store.WithListener(persist.NewSyncer(p, lookup, log.Discard(), onError)))

	s, err := store.New(cfg, opts...)
	require.NoError(t, err)
	return s, clock
}

// accessGate holds the first access event until released, so a later
// mutation can reach the listeners behind it first.
type accessGate struct {
	store.NopListener
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func newAccessGate() *accessGate {
	return &accessGate{held: make(chan struct{}), release: make(chan struct{})}
}

func (g *accessGate) OnAccess(record.Record) {
	g.once.Do(func() {
		close(g.held)
		<-g.release
	})
}

// recallHeld starts a recall for vec and returns once its access
// event is parked in the gate. The returned channel closes when the recall
// has delivered its events.
func recallHeld(t *testing.T, s *store.Store, g *accessGate, vec []float32) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Recall(context.Background(), store.Query{Embedding: vec, K: 1})
		assert.NoError(t, err)
	}()
	select {
	case <-g.held:
	case <-time.After(2 * time.Second):
		t.Fatal("access event never arrived")
	}
	return done
}

func TestSyncer_MirrorsLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	s, clock := newSyncedStore(t, backend, nil)

	a, err := s.Store(ctx, record.Text("alpha"), []float32{1, 0, 0, 0}, 0.9)
	require.NoError(t, err)
	b, err := s.Store(ctx, record.Text("beta"), []float32{0, 1, 0, 0}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Len())

	clock.Advance(time.Minute)
	hits, err := s.Recall(ctx, store.Query{Embedding: []float32{1, 0, 0, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	saved, ok := backend.Get(a)
	require.True(t, ok)
	assert.Equal(t, uint64(1), saved.AccessCount)
	assert.True(t, saved.LastAccess.Equal(epoch.Add(time.Minute)))

	_, err = s.Promote(ctx, a, tier.Instant, clock.Now())
	require.NoError(t, err)
	saved, _ = backend.Get(a)
	assert.Equal(t, tier.Session, saved.Tier)

	_, err = s.Evict(ctx, b, tier.Instant)
	require.NoError(t, err)
	_, ok = backend.Get(b)
	assert.False(t, ok)

	saves, deletes := backend.Counts()
	assert.Equal(t, 4, saves)
	assert.Equal(t, 1, deletes)
}

func TestSyncer_ReplayIntoFreshStore(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	s, _ := newSyncedStore(t, backend, nil)

	id, err := s.Store(ctx, record.Reference("file:///tmp/notes.md"), []float32{0, 0, 1, 0}, 0.7)
	require.NoError(t, err)
	_, err = s.Promote(ctx, id, tier.Instant, s.Now())
	require.NoError(t, err)

	recs, err := backend.LoadAll(ctx)
	require.NoError(t, err)

	restored, _ := newSyncedStore(t, mock.NewMockStore(), nil)
	n, err := restored.Restore(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := restored.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tier.Session, got.Tier)
	assert.Equal(t, record.KindReference, got.Content.Kind)
}

func TestSyncer_FailuresDoNotReachStore(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	boom := errors.New("disk full")
	backend.FailWith(boom)

	var failures []error
	s, _ := newSyncedStore(t, backend, func(err error) { failures = append(failures, err) })

	_, err := s.Store(ctx, record.Text("kept in memory"), []float32{1, 1, 0, 0}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, backend.Len())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], boom)
}

func TestSyncer_LateAccessDoesNotResurrectEvicted(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	gate := newAccessGate()
	s, _ := newSyncedStore(t, backend, nil, gate)

	vec := []float32{1, 0, 0, 0}
	id, err := s.Store(ctx, record.Text("short lived"), vec, 0.2)
	require.NoError(t, err)

	done := recallHeld(t, s, gate, vec)
	_, err = s.Evict(ctx, id, tier.Instant)
	require.NoError(t, err)
	close(gate.release)
	<-done

	_, err = s.Get(id)
	assert.Error(t, err)
	_, ok := backend.Get(id)
	assert.False(t, ok, "evicted record must stay deleted")
}

func TestSyncer_LateAccessKeepsPromotedTier(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewMockStore()
	gate := newAccessGate()
	s, clock := newSyncedStore(t, backend, nil, gate)

	vec := []float32{0, 1, 0, 0}
	id, err := s.Store(ctx, record.Text("climbing"), vec, 0.9)
	require.NoError(t, err)

	done := recallHeld(t, s, gate, vec)
	_, err = s.Promote(ctx, id, tier.Instant, clock.Now())
	require.NoError(t, err)
	close(gate.release)
	<-done

	live, err := s.Get(id)
	require.NoError(t, err)
	saved, ok := backend.Get(id)
	require.True(t, ok)
	assert.Equal(t, tier.Session, live.Tier)
	assert.Equal(t, live.Tier, saved.Tier)
	assert.Equal(t, live.AccessCount, saved.AccessCount)
}

func TestSyncer_WithoutLookupWritesPayload(t *testing.T) {
	backend := mock.NewMockStore()
	syncer := persist.NewSyncer(backend, nil, log.Discard(), nil)

	rec := record.Record{ID: "r1", Tier: tier.Instant, Content: record.Text("as delivered")}
	syncer.OnAdmit(rec)
	saved, ok := backend.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "as delivered", saved.Content.Text)

	syncer.OnEvict(rec, store.EvictLowScore)
	_, ok = backend.Get("r1")
	assert.False(t, ok)
}
