package taskstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	store, err := newSQLiteStore(Config{Type: "sqlite", URL: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteCreateGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "t1", "u1", ModeSingle, map[string]any{"upscale": true}, map[string]any{"stream": false}))

	rec, err := store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusQueued, rec.Status)
	require.Equal(t, ModeSingle, rec.Mode)
	require.Equal(t, true, rec.Config["upscale"])
	require.Nil(t, rec.StartedAt)
	require.Nil(t, rec.FinishedAt)
	require.False(t, rec.CreatedAt.IsZero())
	require.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestSQLiteGetScopedByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "t1", "u1", ModeSingle, nil, nil))

	rec, err := store.Get(ctx, "someone-else", "t1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSQLiteSparseUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "t1", "u1", ModeStream, nil, nil))

	pos := 3
	require.NoError(t, store.Update(ctx, "t1", Update{QueuePosition: &pos}))

	rec, err := store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, 3, rec.QueuePosition)
	require.Equal(t, StatusQueued, rec.Status) // untouched field unchanged

	processing := StatusProcessing
	require.NoError(t, store.Update(ctx, "t1", Update{Status: &processing}))
	rec, err = store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, rec.Status)
	require.Equal(t, 3, rec.QueuePosition) // still unchanged by the second update
}

func TestSQLiteListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "t1", "u1", ModeSingle, nil, nil))
	require.NoError(t, store.Create(ctx, "t2", "u1", ModeSingle, nil, nil))

	recs, err := store.List(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "t2", recs[0].TaskID)
	require.Equal(t, "t1", recs[1].TaskID)
}

func TestSQLiteConfigDecodeFailureYieldsNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "t1", "u1", ModeSingle, nil, nil))
	_, err := store.db.Exec(`UPDATE tasks SET config = ? WHERE task_id = ?`, "{not json", "t1")
	require.NoError(t, err)

	rec, err := store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Nil(t, rec.Config)
}
