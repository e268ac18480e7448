package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemDB(t *testing.T, name string) *DB {
	t.Helper()
	path := t.TempDir() + "/" + name + ".db"
	db, err := New(Config{
		Path:    path,
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_PingsAndConfiguresPool(t *testing.T) {
	db := newMemDB(t, "marketdata")
	require.NoError(t, db.QuickCheck(context.Background()))
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestMigrate_AppliesKnownSchema(t *testing.T) {
	db := newMemDB(t, "marketdata")
	require.NoError(t, db.Migrate())

	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='ingestion_state'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "ingestion_state", name)
}

func TestMigrate_UnknownDatabaseNameIsNoop(t *testing.T) {
	db := newMemDB(t, "not_a_real_db")
	require.NoError(t, db.Migrate())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newMemDB(t, "marketdata")
	require.NoError(t, db.Migrate())

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO ingestion_state (symbol, dataset, interval, last_attempt_at, status) VALUES (?, ?, ?, ?, ?)`,
			"NVDA", "price", "daily", "2026-01-01T00:00:00Z", "failed")
		require.NoError(t, execErr)
		return boom
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ingestion_state`).Scan(&count))
	assert.Equal(t, 0, count, "failed transaction must leave no rows behind")
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db := newMemDB(t, "marketdata")
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO ingestion_state (symbol, dataset, interval, last_attempt_at, status) VALUES (?, ?, ?, ?, ?)`,
			"NVDA", "price", "daily", "2026-01-01T00:00:00Z", "success")
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ingestion_state`).Scan(&count))
	assert.Equal(t, 1, count)
}
