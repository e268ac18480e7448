package maintenance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
)

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: dir + "/" + name + ".db", Profile: database.ProfileStandard, Name: name})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestJob_RunPassesOnHealthyDatabases(t *testing.T) {
	marketDB := newTestDB(t, "marketdata")
	job := New(map[string]*database.DB{"marketdata": marketDB}, nil, t.TempDir(), zerolog.Nop())

	assert.Equal(t, "daily_maintenance", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestJob_RunAcrossMultipleDatabases(t *testing.T) {
	marketDB := newTestDB(t, "marketdata")
	workflowDB := newTestDB(t, "workflow")
	job := New(map[string]*database.DB{"marketdata": marketDB, "workflow": workflowDB}, nil, t.TempDir(), zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
}
