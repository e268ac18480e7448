package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/workflow"
)

// dailyStages is the fixed stage sequence the scheduled job drives a
// workflow through (spec §4.8).
var dailyStages = []struct {
	name      domain.StageName
	dataTypes []domain.DataType
}{
	{domain.StageIngestion, []domain.DataType{domain.DataTypePriceHistorical, domain.DataTypePriceIntraday15m}},
	{domain.StageIndicators, []domain.DataType{domain.DataTypeIndicators}},
	{domain.StageFundamentals, []domain.DataType{domain.DataTypeFundamentals}},
	{domain.StageEarnings, []domain.DataType{domain.DataTypeEarnings}},
	{domain.StageIndustryPeers, []domain.DataType{domain.DataTypeIndustryPeers}},
}

// DailyJob runs the cron-triggered scheduled workflow: enumerate symbols,
// create one workflow execution, and walk it through every stage with a
// bounded worker pool.
type DailyJob struct {
	repo    *repository.Repository
	manager *refresh.Manager
	orch    *workflow.Orchestrator
	log     zerolog.Logger
}

// NewDailyJob builds the scheduled-workflow job.
func NewDailyJob(repo *repository.Repository, manager *refresh.Manager, orch *workflow.Orchestrator, log zerolog.Logger) *DailyJob {
	return &DailyJob{repo: repo, manager: manager, orch: orch, log: log.With().Str("job", "daily_workflow").Logger()}
}

func (j *DailyJob) Name() string { return "daily_workflow" }

func (j *DailyJob) Run(ctx context.Context) error {
	symbols, err := j.repo.ListTrackedSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list tracked symbols: %w", err)
	}
	if len(symbols) == 0 {
		j.log.Info().Msg("no tracked symbols, skipping scheduled workflow")
		return nil
	}

	wfID, err := j.orch.CreateWorkflow(ctx, domain.WorkflowScheduled, symbols)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	pool := NewPool(DefaultConcurrency(len(symbols)))
	metadata := domain.NewWorkflowMetadata()
	workflowFailed := false

	for _, stage := range dailyStages {
		if ctx.Err() != nil {
			break
		}

		stageID, err := j.orch.CreateStage(ctx, wfID, stage.name)
		if err != nil {
			j.log.Error().Err(err).Str("stage", string(stage.name)).Msg("failed to create stage")
			continue
		}

		succeeded, failed := 0, 0
		var mu sync.Mutex
		pool.Run(ctx, symbols, func(ctx context.Context, symbol string) {
			_ = j.orch.CreateSymbolState(ctx, wfID, symbol, stage.name, domain.RunRunning)
			result := j.manager.RefreshData(ctx, symbol, stage.dataTypes, domain.RefreshModeScheduled, false)

			mu.Lock()
			defer mu.Unlock()
			if result.TotalFailed() > 0 {
				failed++
				errMsg := firstError(result)
				metadata.StageErrors[string(stage.name)] = errMsg
				_ = j.orch.UpdateSymbolState(ctx, wfID, symbol, stage.name, domain.RunFailed, errMsg)
			} else {
				succeeded++
				_ = j.orch.UpdateSymbolState(ctx, wfID, symbol, stage.name, domain.RunCompleted, "")
			}
		})

		status := domain.RunCompleted
		if failed > 0 {
			status = domain.RunFailed
			metadata.FailedStages = append(metadata.FailedStages, string(stage.name))
			if stage.name.Blocking() {
				workflowFailed = true
			}
		}
		if err := j.orch.UpdateStage(ctx, stageID, status, succeeded, failed); err != nil {
			j.log.Error().Err(err).Str("stage", string(stage.name)).Msg("failed to update stage")
		}
		metadata.SymbolsSucceeded += succeeded
		metadata.SymbolsFailed += failed

		if workflowFailed {
			break
		}
	}

	if ctx.Err() != nil {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.orch.CancelWorkflow(cancelCtx, wfID); err != nil {
			j.log.Error().Err(err).Str("workflow_id", wfID).Msg("failed to record workflow cancellation")
		}
		return ctx.Err()
	}

	finalStatus := domain.RunCompleted
	if workflowFailed {
		finalStatus = domain.RunFailed
	}
	return j.orch.UpdateWorkflow(ctx, wfID, finalStatus, metadata)
}

func firstError(result refresh.SymbolRefreshResult) string {
	for _, res := range result.Results {
		if res.Error != "" {
			return res.Error
		}
	}
	return "refresh failed"
}

// PeriodicJob runs the tick-triggered periodic refresh: every (symbol,
// dataType) pair whose IngestionState says it is due and not blocked by
// back-off gets refreshed in periodic mode.
type PeriodicJob struct {
	repo    *repository.Repository
	manager *refresh.Manager
	log     zerolog.Logger
}

// NewPeriodicJob builds the periodic-tick job.
func NewPeriodicJob(repo *repository.Repository, manager *refresh.Manager, log zerolog.Logger) *PeriodicJob {
	return &PeriodicJob{repo: repo, manager: manager, log: log.With().Str("job", "periodic_tick").Logger()}
}

func (j *PeriodicJob) Name() string { return "periodic_tick" }

func (j *PeriodicJob) Run(ctx context.Context) error {
	due, err := j.repo.DuePeriodicWork(ctx)
	if err != nil {
		return fmt.Errorf("list due periodic work: %w", err)
	}

	for _, key := range due {
		dt, ok := domain.DataTypeFromDatasetInterval(key.Dataset, key.Interval)
		if !ok {
			continue
		}
		result := j.manager.RefreshData(ctx, key.Symbol, []domain.DataType{dt}, domain.RefreshModePeriodic, false)
		res := result.Results[dt]
		if res.Status == domain.RefreshStatusFailed {
			j.log.Warn().Str("symbol", key.Symbol).Str("data_type", string(dt)).Str("error", res.Error).Msg("periodic refresh failed")
		}
	}
	return nil
}
