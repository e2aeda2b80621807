package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_AppliesSchema(t *testing.T) {
	db := newTestDB(t, NameChain, ProfileLedger)
	require.NoError(t, db.Migrate())
	// Migrations are idempotent
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('agents','executions','transactions','events')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, NameChain, db.Name())
	assert.Equal(t, ProfileLedger, db.Profile())
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newTestDB(t, "scratch", ProfileCache)
	assert.NoError(t, db.Migrate())
}

func TestSchema(t *testing.T) {
	schema, err := Schema(NameStorage)
	require.NoError(t, err)
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS files")

	_, err = Schema("missing")
	assert.Error(t, err)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t, NameStorage, ProfileStandard)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO files (root_hash, size, data, tx_reference, created_at) VALUES ('0x01', 1, x'00', 'tx', 0)`)
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM files").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newTestDB(t, NameStorage, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestHealthAndWAL(t *testing.T) {
	db := newTestDB(t, NameStorage, ProfileStandard)
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))

	_, _, err := db.WALStatus()
	assert.NoError(t, err)
	assert.NoError(t, db.WALCheckpoint(""))
}

func TestBuildConnectionString(t *testing.T) {
	conn := buildConnectionString("/tmp/x.db", ProfileLedger)
	assert.Contains(t, conn, "/tmp/x.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, conn, "synchronous(FULL)")
	assert.Contains(t, conn, "busy_timeout(5000)")

	conn = buildConnectionString("file:mem?mode=memory", ProfileCache)
	assert.Contains(t, conn, "file:mem?mode=memory&_pragma=journal_mode(WAL)")
}
