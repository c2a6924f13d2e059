package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/test/testutil"
)

var created = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path, cleanup := testutil.CreateTempDBPath(t, "omegamem.sqlite")
	t.Cleanup(cleanup)

	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := testutil.SampleRecords(6, created)
	for i := len(want) - 1; i >= 0; i-- {
		require.NoError(t, store.Save(ctx, want[i]))
	}

	got, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		testutil.AssertRecordsEqual(t, want[i], got[i])
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testutil.SampleRecords(6, created)[0]
	require.NoError(t, store.Save(ctx, rec))

	rec.Tier = tier.Semantic
	rec.AccessCount = 7
	rec.LastAccess = rec.LastAccess.Add(time.Hour)
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	testutil.AssertRecordsEqual(t, rec, got[0])
}

func TestSQLiteStore_DeleteAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recs := testutil.SampleRecords(6, created)
	for _, r := range recs {
		require.NoError(t, store.Save(ctx, r))
	}
	require.NoError(t, store.Delete(ctx, recs[0].ID))
	require.NoError(t, store.Delete(ctx, record.ID("missing")))

	counts, err := store.CountByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[tier.Ordinal]int{
		tier.Session:  1,
		tier.Episodic: 1,
		tier.Omega:    1,
	}, counts)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path, cleanup := testutil.CreateTempDBPath(t, "omegamem.sqlite")
	defer cleanup()
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	rec := testutil.SampleRecords(6, created)[1]
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	testutil.AssertRecordsEqual(t, rec, got[0])
}
