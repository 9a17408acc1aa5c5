package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorcore/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.migrate())
	assert.Equal(t, "sqlite", db.Dialect().Name())
}

func TestAppendAndListEvents(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := db.AppendEvent(at, "m1", "unit_assigned", "assigned order o-1")
	require.NoError(t, err)
	_, err = db.AppendEvent(at.Add(time.Minute), "w1", "material_received", "steel 600")
	require.NoError(t, err)
	id, err := db.AppendEvent(at.Add(2*time.Minute), "m1", "cycle_completed", "produced 100")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	all, err := db.ListEvents(10, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cycle_completed", all[0].Kind)
	assert.Equal(t, "2026-03-01T08:02:00Z", all[0].OccurredAt)

	m1, err := db.ListEvents(10, "m1")
	require.NoError(t, err)
	assert.Len(t, m1, 2)

	limited, err := db.ListEvents(1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := db.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOutboxLifecycle(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.EnqueueOutbox("floorcore.events", []byte(`{"a":1}`), "event")
	require.NoError(t, err)
	_, err = db.EnqueueOutbox("floorcore.events", []byte(`{"a":2}`), "event")
	require.NoError(t, err)

	pending, err := db.ListPendingOutbox(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, []byte(`{"a":1}`), pending[0].Payload)
	assert.NotEmpty(t, pending[0].MessageID)

	require.NoError(t, db.FailOutbox(id1, "broker down"))
	require.NoError(t, db.AckOutbox(pending[1].ID))

	pending, err = db.ListPendingOutbox(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	n, err := db.CountPendingOutbox()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a=$1 AND b=$2", Rebind("SELECT * FROM t WHERE a=? AND b=?"))
	db := &DB{driver: "postgres", dialect: postgresDialect{}}
	assert.Equal(t, "UPDATE outbox SET sent_at=NOW() WHERE id=$1", db.Q("UPDATE outbox SET sent_at=datetime('now') WHERE id=?"))
}
