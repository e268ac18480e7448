package workflow

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	path := t.TempDir() + "/workflow.db"
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "workflow"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zerolog.Nop())
}

func TestWorkflowLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	wfID, err := o.CreateWorkflow(ctx, domain.WorkflowOnDemand, []string{"AAPL", "NVDA"})
	require.NoError(t, err)
	require.NotEmpty(t, wfID)

	stageID, err := o.CreateStage(ctx, wfID, domain.StageIngestion)
	require.NoError(t, err)

	require.NoError(t, o.CreateSymbolState(ctx, wfID, "AAPL", domain.StageIngestion, domain.RunRunning))
	require.NoError(t, o.UpdateSymbolState(ctx, wfID, "AAPL", domain.StageIngestion, domain.RunCompleted, ""))

	require.NoError(t, o.UpdateStage(ctx, stageID, domain.RunCompleted, 1, 0))

	metadata := domain.NewWorkflowMetadata()
	metadata.SymbolsSucceeded = 1
	require.NoError(t, o.UpdateWorkflow(ctx, wfID, domain.RunCompleted, metadata))

	summary, err := o.GetSummary(ctx, wfID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, domain.RunCompleted, summary.Workflow.Status)
	require.Len(t, summary.Stages, 1)
	assert.Equal(t, domain.RunCompleted, summary.Stages[0].Status)
	require.Len(t, summary.SymbolStates, 1)
	assert.Equal(t, domain.RunCompleted, summary.SymbolStates[0].Status)
}

func TestUpdateWorkflow_TerminalIsOneWay(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	wfID, err := o.CreateWorkflow(ctx, domain.WorkflowScheduled, []string{"AAPL"})
	require.NoError(t, err)

	require.NoError(t, o.UpdateWorkflow(ctx, wfID, domain.RunCompleted, domain.NewWorkflowMetadata()))
	// second transition must be a no-op, not an error nor a status flip.
	require.NoError(t, o.UpdateWorkflow(ctx, wfID, domain.RunFailed, domain.NewWorkflowMetadata()))

	summary, err := o.GetSummary(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, summary.Workflow.Status)
}

func TestRerunStage_CreatesLinkedRecord(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	wfID, err := o.CreateWorkflow(ctx, domain.WorkflowOnDemand, []string{"AAPL"})
	require.NoError(t, err)

	original, err := o.CreateStage(ctx, wfID, domain.StageFundamentals)
	require.NoError(t, err)
	require.NoError(t, o.UpdateStage(ctx, original, domain.RunFailed, 0, 1))

	rerunID, err := o.RerunStage(ctx, wfID, domain.StageFundamentals, original)
	require.NoError(t, err)
	assert.NotEqual(t, original, rerunID)

	summary, err := o.GetSummary(ctx, wfID)
	require.NoError(t, err)
	require.Len(t, summary.Stages, 2)

	var foundRerun bool
	for _, s := range summary.Stages {
		if s.StageExecutionID == rerunID {
			foundRerun = true
			assert.Equal(t, original, s.RerunOf)
		}
	}
	assert.True(t, foundRerun)
}


func TestCancelWorkflow_FlipsRunningRowsToFailed(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	wfID, err := o.CreateWorkflow(ctx, domain.WorkflowScheduled, []string{"AAPL", "NVDA"})
	require.NoError(t, err)

	stageID, err := o.CreateStage(ctx, wfID, domain.StageIngestion)
	require.NoError(t, err)
	require.NoError(t, o.CreateSymbolState(ctx, wfID, "AAPL", domain.StageIngestion, domain.RunRunning))
	require.NoError(t, o.CreateSymbolState(ctx, wfID, "NVDA", domain.StageIngestion, domain.RunRunning))
	// NVDA already finished before the cancellation arrived; it must not be
	// disturbed by CancelWorkflow.
	require.NoError(t, o.UpdateSymbolState(ctx, wfID, "NVDA", domain.StageIngestion, domain.RunCompleted, ""))

	require.NoError(t, o.CancelWorkflow(ctx, wfID))

	summary, err := o.GetSummary(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, summary.Workflow.Status)

	require.Len(t, summary.Stages, 1)
	assert.Equal(t, stageID, summary.Stages[0].StageExecutionID)
	assert.Equal(t, domain.RunFailed, summary.Stages[0].Status)

	bySymbol := map[string]domain.SymbolState{}
	for _, s := range summary.SymbolStates {
		bySymbol[s.Symbol] = s
	}
	require.Len(t, bySymbol, 2)
	assert.Equal(t, domain.RunFailed, bySymbol["AAPL"].Status)
	assert.Equal(t, domain.ErrCancelled.Error(), bySymbol["AAPL"].ErrorMessage)
	assert.Equal(t, domain.RunCompleted, bySymbol["NVDA"].Status)
}

func TestCancelWorkflow_NoopWhenAlreadyTerminal(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	wfID, err := o.CreateWorkflow(ctx, domain.WorkflowOnDemand, []string{"AAPL"})
	require.NoError(t, err)
	require.NoError(t, o.UpdateWorkflow(ctx, wfID, domain.RunCompleted, domain.NewWorkflowMetadata()))

	require.NoError(t, o.CancelWorkflow(ctx, wfID))

	summary, err := o.GetSummary(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, summary.Workflow.Status, "a completed workflow must not be flipped to failed by a late cancel")
}
