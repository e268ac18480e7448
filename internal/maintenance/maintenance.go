// Package maintenance implements the daily housekeeping job that keeps the
// three SQLite databases healthy between refresh runs: integrity checks,
// WAL checkpointing and a disk-space guard that fails the job (returns an
// error) when free space runs critically low.
package maintenance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/provider/respcache"
)

// Disk-space thresholds, in gigabytes. Below criticalFreeGB the job returns
// an error so the scheduler's failure logging makes the condition visible;
// below warnFreeGB it only logs.
const (
	criticalFreeGB = 0.5
	warnFreeGB     = 5.0
)

// Job runs integrity checks, WAL checkpoints and a disk-space check across
// every database it is given.
type Job struct {
	databases map[string]*database.DB
	respCache *respcache.Cache
	dataDir   string
	log       zerolog.Logger
}

// New builds the daily maintenance job over the named databases
// (e.g. "marketdata", "workflow", "respcache"). dataDir is the filesystem
// path whose volume is checked for free space. respCache may be nil, in
// which case the expired-entry purge step is skipped.
func New(databases map[string]*database.DB, respCache *respcache.Cache, dataDir string, log zerolog.Logger) *Job {
	return &Job{
		databases: databases,
		respCache: respCache,
		dataDir:   dataDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

func (j *Job) Name() string { return "daily_maintenance" }

// Run performs, in order: integrity check per database, WAL checkpoint per
// database (best-effort, never fatal), then the disk-space guard (fatal
// below criticalFreeGB).
func (j *Job) Run(ctx context.Context) error {
	for name, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if j.respCache != nil {
		if n, err := j.respCache.PurgeExpired(ctx); err != nil {
			j.log.Warn().Err(err).Msg("response cache purge failed")
		} else if n > 0 {
			j.log.Info().Int64("purged", n).Msg("expired response cache entries purged")
		}
	}

	for name, db := range j.databases {
		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("failed to read database stats")
			continue
		}
		j.log.Info().Str("database", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Msg("database stats")
	}

	return nil
}

func (j *Job) checkDiskSpace() error {
	usage, err := disk.UsageWithContext(context.Background(), j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem for %s: %w", j.dataDir, err)
	}

	freeGB := float64(usage.Free) / 1e9
	switch {
	case freeGB < criticalFreeGB:
		j.log.Error().Float64("free_gb", freeGB).Msg("critical: insufficient disk space")
		return fmt.Errorf("only %.2f GB free at %s, maintenance halted", freeGB, j.dataDir)
	case freeGB < warnFreeGB:
		j.log.Warn().Float64("free_gb", freeGB).Msg("disk space running low")
	}
	return nil
}
