package mmu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedmock "github.com/lexlapax/omegamem/pkg/embedding/adapters/mock"
	pkgerrors "github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	persistmock "github.com/lexlapax/omegamem/pkg/mem/persist/mock"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/pkg/scripting"
	"github.com/lexlapax/omegamem/test/testutil"
)

const dim = 128

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// mockScriptEngine implements scripting.Engine with canned results.
type mockScriptEngine struct {
	mu              sync.Mutex
	functionResults map[string]interface{}
	functionErrors  map[string]error
	calls           []mockCall
}

type mockCall struct {
	FunctionName string
	Args         []interface{}
}

func newMockScriptEngine() *mockScriptEngine {
	return &mockScriptEngine{
		functionResults: make(map[string]interface{}),
		functionErrors:  make(map[string]error),
	}
}

func (m *mockScriptEngine) LoadScript(string, []byte) error { return nil }
func (m *mockScriptEngine) LoadScriptFile(string) error     { return nil }
func (m *mockScriptEngine) LoadScriptDir(string) error      { return nil }
func (m *mockScriptEngine) Close() error                    { return nil }

func (m *mockScriptEngine) HasFunction(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.functionResults[name]
	_, failing := m.functionErrors[name]
	return ok || failing
}

func (m *mockScriptEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{FunctionName: funcName, Args: args})
	if err, ok := m.functionErrors[funcName]; ok {
		return nil, err
	}
	return m.functionResults[funcName], nil
}

func (m *mockScriptEngine) called(name string) []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockCall
	for _, c := range m.calls {
		if c.FunctionName == name {
			out = append(out, c)
		}
	}
	return out
}

type testEnv struct {
	mmu       *MMU
	embedder  *embedmock.MockEmbedder
	persister *persistmock.MockStore
	clock     *testutil.FixedClock
}

func setupTest(t *testing.T, scripts scripting.Engine, persister *persistmock.MockStore) testEnv {
	t.Helper()
	cfg := store.DefaultConfig(dim)
	cfg.Index.Seed = 5
	clock := testutil.NewFixedClock(epoch)
	embedder := embedmock.New(dim)
	if persister == nil {
		persister = persistmock.NewMockStore()
	}
	m, err := New(cfg, consolidation.DefaultConfig(), Dependencies{
		Embedder:  embedder,
		Scripts:   scripts,
		Persister: persister,
		Logger:    log.Discard(),
		Clock:     clock.Now,
	}, DefaultConfig())
	require.NoError(t, err)
	return testEnv{mmu: m, embedder: embedder, persister: persister, clock: clock}
}

func TestMMU_EncodeAndRetrieve(t *testing.T) {
	env := setupTest(t, nil, nil)
	ctx := context.Background()

	id, err := env.mmu.Encode(ctx, record.Text("the payment service deploy succeeded"), 0.7)
	require.NoError(t, err)
	_, err = env.mmu.Encode(ctx, record.Text("lunch menu has soup"), 0.4)
	require.NoError(t, err)
	_, err = env.mmu.Encode(ctx, record.Structured(map[string]interface{}{"service": "payment", "status": "ok"}), 0.5)
	require.NoError(t, err)

	hits, err := env.mmu.Retrieve(ctx, Query{Text: "payment service deploy", K: 2})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].Record.ID)
	assert.Equal(t, uint64(1), hits[0].Record.AccessCount)

	saved, ok := env.persister.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(1), saved.AccessCount)
	assert.Equal(t, 3, env.persister.Len())
	assert.Equal(t, 3, env.mmu.Stats().Count(tier.Instant))
}

func TestMMU_RetrieveEmptyStore(t *testing.T) {
	env := setupTest(t, nil, nil)
	hits, err := env.mmu.Retrieve(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMMU_InvalidInput(t *testing.T) {
	env := setupTest(t, nil, nil)
	ctx := context.Background()

	_, err := env.mmu.Encode(ctx, record.Text(""), 0.5)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	_, err = env.mmu.Encode(ctx, record.Text("fine"), 1.5)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidImportance)

	_, err = env.mmu.EncodeWithEmbedding(ctx, record.Text("short"), []float32{1, 2}, 0.5)
	assert.ErrorIs(t, err, pkgerrors.ErrDimensionMismatch)

	_, err = env.mmu.Retrieve(ctx, Query{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	assert.Equal(t, 0, env.mmu.Store().Len())
}

func TestMMU_NoEmbedder(t *testing.T) {
	m, err := New(store.DefaultConfig(4), consolidation.DefaultConfig(), Dependencies{Logger: log.Discard()}, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Encode(ctx, record.Text("needs a model"), 0.5)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	id, err := m.EncodeWithEmbedding(ctx, record.Reference("urn:x"), []float32{1, 0, 0, 0}, 0.5)
	require.NoError(t, err)

	_, err = m.Retrieve(ctx, Query{Text: "text query"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	hits, err := m.Retrieve(ctx, Query{Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].Record.ID)
	assert.NoError(t, m.Close())
}

func TestMMU_EmbedderDimensionMismatch(t *testing.T) {
	_, err := New(store.DefaultConfig(8), consolidation.DefaultConfig(), Dependencies{
		Embedder: embedmock.New(16),
		Logger:   log.Discard(),
	}, DefaultConfig())
	assert.ErrorIs(t, err, pkgerrors.ErrDimensionMismatch)
}

func TestMMU_EmbedderFailure(t *testing.T) {
	env := setupTest(t, nil, nil)
	boom := errors.New("model offline")
	env.embedder.SetError(boom)

	_, err := env.mmu.Encode(context.Background(), record.Text("lost"), 0.5)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, env.mmu.Store().Len())
}

func TestMMU_ConsolidatePersistsTransitions(t *testing.T) {
	env := setupTest(t, nil, nil)
	ctx := context.Background()

	keep, err := env.mmu.Encode(ctx, record.Text("remember the release date"), 0.9)
	require.NoError(t, err)
	drop, err := env.mmu.Encode(ctx, record.Text("background noise"), 0.01)
	require.NoError(t, err)

	rep, err := env.mmu.Consolidate(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Promoted)
	assert.Equal(t, 1, rep.Evicted)

	saved, ok := env.persister.Get(keep)
	require.True(t, ok)
	assert.Equal(t, tier.Session, saved.Tier)
	_, ok = env.persister.Get(drop)
	assert.False(t, ok)
}

func TestMMU_LoadRestoresState(t *testing.T) {
	ctx := context.Background()
	persister := persistmock.NewMockStore()
	first := setupTest(t, nil, persister)

	id, err := first.mmu.Encode(ctx, record.Text("survives restarts"), 0.9)
	require.NoError(t, err)
	_, err = first.mmu.Consolidate(ctx, first.clock.Now())
	require.NoError(t, err)

	second := setupTest(t, nil, persister)
	n, err := second.mmu.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := second.mmu.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tier.Session, got.Tier)

	hits, err := second.mmu.Retrieve(ctx, Query{Text: "survives restarts", Tiers: []tier.Ordinal{tier.Session}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].Record.ID)
}

func TestMMU_PersistErrorsCounted(t *testing.T) {
	persister := persistmock.NewMockStore()
	persister.FailWith(errors.New("read-only filesystem"))
	env := setupTest(t, nil, persister)

	_, err := env.mmu.Encode(context.Background(), record.Text("kept in memory only"), 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.mmu.PersistErrors())
	assert.Equal(t, 1, env.mmu.Store().Len())
}

func TestMMU_HooksWithMockEngine(t *testing.T) {
	scripts := newMockScriptEngine()
	scripts.functionResults[beforeEncodeFuncName] = map[string]interface{}{"importance": 0.95}
	scripts.functionResults[beforeRetrieveFuncName] = map[string]interface{}{"k": float64(1)}
	scripts.functionErrors[afterConsolidateFuncName] = errors.New("script bug")
	env := setupTest(t, scripts, nil)
	ctx := context.Background()

	id, err := env.mmu.Encode(ctx, record.Text("boosted by policy"), 0.1)
	require.NoError(t, err)
	got, err := env.mmu.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0.95, got.Importance)

	calls := scripts.called(beforeEncodeFuncName)
	require.Len(t, calls, 1)
	arg := calls[0].Args[0].(map[string]interface{})
	assert.Equal(t, "text", arg["kind"])
	assert.Equal(t, 0.1, arg["importance"])

	_, err = env.mmu.Encode(ctx, record.Text("another one"), 0.5)
	require.NoError(t, err)
	hits, err := env.mmu.Retrieve(ctx, Query{Text: "policy", K: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// a failing hook does not fail the pass
	_, err = env.mmu.Consolidate(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Len(t, scripts.called(afterConsolidateFuncName), 1)
}

func TestMMU_HooksDisabled(t *testing.T) {
	scripts := newMockScriptEngine()
	scripts.functionResults[beforeEncodeFuncName] = false
	cfg := store.DefaultConfig(dim)
	m, err := New(cfg, consolidation.DefaultConfig(), Dependencies{
		Embedder: embedmock.New(dim),
		Scripts:  scripts,
		Logger:   log.Discard(),
	}, Config{EnableLuaHooks: false})
	require.NoError(t, err)

	_, err = m.Encode(context.Background(), record.Text("not vetoed"), 0.5)
	require.NoError(t, err)
	assert.Empty(t, scripts.called(beforeEncodeFuncName))
}

func TestMMU_LuaHooks(t *testing.T) {
	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, engine.LoadScript("policy.lua", []byte(`
		last_report = nil

		function before_encode(rec)
			if string.find(rec.text, "password") then
				return false
			end
			if rec.kind == "reference" then
				return { importance = 0.8 }
			end
			return rec
		end

		function before_retrieve(q)
			q.min_importance = 0.5
			return q
		end

		function after_consolidate(report)
			last_report = report
		end

		function promoted_last()
			if last_report == nil then
				return -1
			end
			return last_report.promoted
		end
	`)))
	env := setupTest(t, engine, nil)
	ctx := context.Background()

	_, err = env.mmu.Encode(ctx, record.Text("my password is hunter2"), 0.9)
	assert.ErrorIs(t, err, ErrVetoed)
	assert.ErrorIs(t, err, pkgerrors.ErrVetoed)
	assert.Contains(t, err.Error(), "text content")
	assert.Equal(t, 0, env.mmu.Store().Len())

	ref, err := env.mmu.Encode(ctx, record.Reference("s3://logs/incident-42"), 0.2)
	require.NoError(t, err)
	got, err := env.mmu.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Importance)

	_, err = env.mmu.Encode(ctx, record.Text("incident 42 logs uploaded"), 0.3)
	require.NoError(t, err)

	hits, err := env.mmu.Retrieve(ctx, Query{Text: "incident 42 logs"})
	require.NoError(t, err)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Record.Importance, 0.5)
	}

	_, err = env.mmu.Consolidate(ctx, env.clock.Now())
	require.NoError(t, err)
	promoted, err := engine.ExecuteFunction(ctx, "promoted_last")
	require.NoError(t, err)
	assert.Equal(t, float64(1), promoted)

	require.NoError(t, env.mmu.Close())
}

func TestMMU_Run(t *testing.T) {
	env := setupTest(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := env.mmu.Encode(ctx, record.Text("promote me on the first tick"), 0.9)
	require.NoError(t, err)

	reports := make(chan consolidation.Report, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.mmu.Run(ctx, 10*time.Millisecond, func(rep consolidation.Report, err error) {
			if err != nil {
				return
			}
			select {
			case reports <- rep:
			default:
			}
		})
	}()

	select {
	case rep := <-reports:
		assert.Equal(t, 1, rep.Promoted)
	case <-time.After(5 * time.Second):
		t.Fatal("no consolidation report")
	}
	cancel()
	<-done
}
