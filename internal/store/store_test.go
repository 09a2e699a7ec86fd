package store_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/store"
	"github.com/stretchr/testify/require"
)

func initDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(t.Context(), filepath.Join(t.TempDir(), "rem.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func snapshot(id string, tries int) job.Snapshot {
	code := 1
	return job.Snapshot{
		Version:       job.SnapshotVersion,
		ID:            id,
		Shell:         "exit 1",
		Parents:       []string{"p"},
		MaxTryCount:   3,
		NotifyTimeout: time.Hour,
		RetryDelay:    5 * time.Second,
		Tries:         tries,
		Results:       []model.Result{{Kind: model.KindOSExit, Code: &code, Message: "boom"}},
		WorkingTime:   1500 * time.Millisecond,
		Notified:      true,
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()

	_, err := store.Load(ctx, db, "pkt", "a")
	require.ErrorIs(t, err, store.ErrNotFound)

	before := time.Now()
	require.NoError(t, store.Save(ctx, db, "pkt", snapshot("a", 1)))
	row, err := store.Load(ctx, db, "pkt", "a")
	require.NoError(t, err)
	require.Equal(t, "pkt", row.Packet)
	require.Equal(t, snapshot("a", 1), row.Snapshot)
	require.False(t, row.Updated.Before(before.Truncate(time.Millisecond)))

	// upsert
	require.NoError(t, store.Save(ctx, db, "pkt", snapshot("a", 2)))
	row, err = store.Load(ctx, db, "pkt", "a")
	require.NoError(t, err)
	require.Equal(t, 2, row.Snapshot.Tries)

	// packets are separate namespaces
	_, err = store.Load(ctx, db, "other", "a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDelete(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Save(ctx, db, "pkt", snapshot(id, 1)))
	}
	require.NoError(t, store.Save(ctx, db, "other", snapshot("z", 1)))

	rows, err := store.List(ctx, db, "pkt")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.Snapshot.ID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, store.DeleteJob(ctx, db, "pkt", "b"))
	require.ErrorIs(t, store.DeleteJob(ctx, db, "pkt", "b"), store.ErrNotFound)

	n, err := store.Delete(ctx, db, "pkt")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	rows, err = store.List(ctx, db, "pkt")
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = store.List(ctx, db, "other")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRestoreFromStore(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, db, "pkt", snapshot("a", 2)))
	row, err := store.Load(ctx, db, "pkt", "a")
	require.NoError(t, err)

	j, err := job.Restore(row.Snapshot, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, j.Tries())
	require.Equal(t, 1500*time.Millisecond, j.WorkingTime())
	require.True(t, j.Notified())
}
