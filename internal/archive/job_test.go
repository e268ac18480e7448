package archive

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	path := t.TempDir() + "/marketdata.db"
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "marketdata"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return repository.New(db, zerolog.Nop())
}

func TestJob_NilClientIsNoop(t *testing.T) {
	job := NewJob(nil, newTestRepo(t), zerolog.Nop())
	assert.Equal(t, "archive_daily", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}
