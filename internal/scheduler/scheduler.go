// Package scheduler implements the C8 Scheduler: a daily cron job and a
// periodic tick, each dispatching refresh work into a bounded worker pool.
// Grounded on the teacher's trader-go scheduler (a thin robfig/cron/v3
// wrapper around a Job{Run, Name} interface), generalized here with a
// context-aware Run signature and a worker pool for per-symbol fan-out.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of scheduled work. Run must honor ctx cancellation.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler wraps a cron.Cron instance, logging job start/failure the way
// the teacher's scheduler does.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds a stopped Scheduler. Call Start to begin running registered
// jobs.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins executing registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for running jobs to finish and halts further executions.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job against a standard 6-field cron schedule expression
// (seconds-first, matching cron.WithSeconds()).
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(context.Background(), job)
	})
	return err
}

// RunNow executes job immediately, outside of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) {
	s.runJob(ctx, job)
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	log := s.log.With().Str("job", job.Name()).Logger()
	log.Info().Msg("job started")
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Msg("job failed")
		return
	}
	log.Info().Msg("job completed")
}
