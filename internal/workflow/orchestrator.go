// Package workflow implements the C7 Workflow Orchestrator: the audit
// hierarchy of workflow -> stage -> per-symbol state backing scheduled,
// periodic and on-demand refresh runs. It enforces the one-way
// running -> {completed, failed} terminal transition and records targeted
// re-runs as new, linked stage executions rather than mutating history.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
)

// Orchestrator owns the workflow/stage/symbol-state tables in the workflow
// database.
type Orchestrator struct {
	db  *database.DB
	log zerolog.Logger
}

// New wraps an already-migrated workflow database.
func New(db *database.DB, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{db: db, log: log.With().Str("component", "orchestrator").Logger()}
}

// CreateWorkflow starts a new workflow execution in state=running.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, typ domain.WorkflowType, symbols []string) (string, error) {
	id := uuid.NewString()
	symbolsJSON, err := json.Marshal(symbols)
	if err != nil {
		return "", fmt.Errorf("marshal symbols: %w", err)
	}
	metadata := domain.NewWorkflowMetadata()
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = o.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_executions (workflow_id, type, symbols, status, current_stage, started_at, completed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		id, string(typ), string(symbolsJSON), string(domain.RunRunning), "", nowISO(), string(metadataJSON))
	if err != nil {
		return "", fmt.Errorf("create workflow: %w", err)
	}
	return id, nil
}

// CreateStage starts a new stage execution in state=running, advancing the
// owning workflow's current_stage.
func (o *Orchestrator) CreateStage(ctx context.Context, workflowID string, stage domain.StageName) (string, error) {
	id := uuid.NewString()
	_, err := o.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_stage_executions
			(stage_execution_id, workflow_id, stage_name, status, started_at, completed_at, symbols_succeeded, symbols_failed, metadata, rerun_of)
		VALUES (?, ?, ?, ?, ?, NULL, 0, 0, NULL, NULL)`,
		id, workflowID, string(stage), string(domain.RunRunning), nowISO())
	if err != nil {
		return "", fmt.Errorf("create stage: %w", err)
	}
	if _, err := o.db.Conn().ExecContext(ctx,
		`UPDATE workflow_executions SET current_stage = ? WHERE workflow_id = ?`, string(stage), workflowID); err != nil {
		o.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to advance current_stage")
	}
	return id, nil
}

// RerunStage creates a new stage execution linked to originalStageID via
// RerunOf, rather than mutating the original record.
func (o *Orchestrator) RerunStage(ctx context.Context, workflowID string, stage domain.StageName, originalStageID string) (string, error) {
	id := uuid.NewString()
	_, err := o.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_stage_executions
			(stage_execution_id, workflow_id, stage_name, status, started_at, completed_at, symbols_succeeded, symbols_failed, metadata, rerun_of)
		VALUES (?, ?, ?, ?, ?, NULL, 0, 0, NULL, ?)`,
		id, workflowID, string(stage), string(domain.RunRunning), nowISO(), originalStageID)
	if err != nil {
		return "", fmt.Errorf("rerun stage: %w", err)
	}
	return id, nil
}

// CreateSymbolState upserts the per-(workflow, symbol, stage) progress row.
func (o *Orchestrator) CreateSymbolState(ctx context.Context, workflowID, symbol string, stage domain.StageName, status domain.RunStatus) error {
	_, err := o.db.Conn().ExecContext(ctx, `
		INSERT INTO workflow_symbol_states (workflow_id, symbol, stage, status, error_message, retry_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, NULL, 0, ?, NULL)
		ON CONFLICT (workflow_id, symbol, stage) DO UPDATE SET status = excluded.status, started_at = excluded.started_at`,
		workflowID, domain.NormalizeSymbol(symbol), string(stage), string(status), nowISO())
	return err
}

// UpdateStage transitions a stage execution's status and success/failure
// counts. Only a running stage may transition; a terminal stage is left
// untouched (enforces the one-way invariant).
func (o *Orchestrator) UpdateStage(ctx context.Context, stageExecutionID string, status domain.RunStatus, succeeded, failed int) error {
	var completedAt any
	if status == domain.RunCompleted || status == domain.RunFailed {
		completedAt = nowISO()
	}
	res, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_stage_executions
		SET status = ?, symbols_succeeded = ?, symbols_failed = ?, completed_at = COALESCE(?, completed_at)
		WHERE stage_execution_id = ? AND status = ?`,
		string(status), succeeded, failed, completedAt, stageExecutionID, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		o.log.Debug().Str("stage_execution_id", stageExecutionID).Msg("stage update ignored: not running or not found")
	}
	return nil
}

// UpdateSymbolState transitions one per-symbol progress record.
func (o *Orchestrator) UpdateSymbolState(ctx context.Context, workflowID, symbol string, stage domain.StageName, status domain.RunStatus, errMsg string) error {
	var completedAt any
	if status == domain.RunCompleted || status == domain.RunFailed || status == domain.RunSkipped {
		completedAt = nowISO()
	}
	_, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_symbol_states
		SET status = ?, error_message = ?, completed_at = COALESCE(?, completed_at),
			retry_count = CASE WHEN ? = 'failed' THEN retry_count + 1 ELSE retry_count END
		WHERE workflow_id = ? AND symbol = ? AND stage = ?`,
		string(status), nullableMessage(errMsg), completedAt, string(status), workflowID, domain.NormalizeSymbol(symbol), string(stage))
	return err
}

// UpdateWorkflow transitions the workflow's terminal status and persists
// aggregated metadata. A workflow already in a terminal state is left
// untouched.
func (o *Orchestrator) UpdateWorkflow(ctx context.Context, workflowID string, status domain.RunStatus, metadata domain.WorkflowMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var completedAt any
	if status == domain.RunCompleted || status == domain.RunFailed {
		completedAt = nowISO()
	}
	res, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, metadata = ?, completed_at = COALESCE(?, completed_at)
		WHERE workflow_id = ? AND status = ?`,
		string(status), string(metadataJSON), completedAt, workflowID, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		o.log.Debug().Str("workflow_id", workflowID).Msg("workflow update ignored: not running or not found")
	}
	return nil
}

// CancelWorkflow flips every running stage execution and symbol state for
// workflowID to failed with domain.ErrCancelled's message, then the
// workflow itself follows the same one-way running -> failed transition.
// ctx should typically be a fresh, short-lived context rather than the
// (already-cancelled) one that triggered the cancellation, since the
// writes below must still complete.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, workflowID string) error {
	now := nowISO()
	msg := domain.ErrCancelled.Error()

	if _, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_symbol_states
		SET status = ?, error_message = ?, completed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(domain.RunFailed), msg, now, workflowID, string(domain.RunRunning)); err != nil {
		return fmt.Errorf("cancel symbol states: %w", err)
	}

	if _, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_stage_executions
		SET status = ?, completed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(domain.RunFailed), now, workflowID, string(domain.RunRunning)); err != nil {
		return fmt.Errorf("cancel stages: %w", err)
	}

	res, err := o.db.Conn().ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, completed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(domain.RunFailed), now, workflowID, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("cancel workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		o.log.Debug().Str("workflow_id", workflowID).Msg("cancel ignored: workflow not running or not found")
	}
	return nil
}

// GetSummary returns the workflow, its stage executions, its symbol states
// and a small derived counts map.
func (o *Orchestrator) GetSummary(ctx context.Context, workflowID string) (*domain.WorkflowSummary, error) {
	wf, err := o.getWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, nil
	}
	stages, err := o.getStages(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	states, err := o.getSymbolStates(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{"stages": len(stages), "symbol_states": len(states)}
	for _, s := range states {
		counts["symbol_state_"+string(s.Status)]++
	}

	return &domain.WorkflowSummary{Workflow: *wf, Stages: stages, SymbolStates: states, Counts: counts}, nil
}

// ListWorkflows returns the most recent workflow executions, newest first,
// optionally filtered to a single type. limit <= 0 defaults to 50.
func (o *Orchestrator) ListWorkflows(ctx context.Context, limit int, typ *domain.WorkflowType) ([]domain.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT workflow_id, type, symbols, status, current_stage, started_at, completed_at, metadata
		FROM workflow_executions`
	args := []any{}
	if typ != nil {
		query += ` WHERE type = ?`
		args = append(args, string(*typ))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := o.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkflowExecution
	for rows.Next() {
		var wf domain.WorkflowExecution
		var t, status, currentStage, symbolsJSON, metadataJSON, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&wf.WorkflowID, &t, &symbolsJSON, &status, &currentStage, &startedAt, &completedAt, &metadataJSON); err != nil {
			return nil, err
		}
		wf.Type = domain.WorkflowType(t)
		wf.Status = domain.RunStatus(status)
		wf.CurrentStage = domain.StageName(currentStage)
		if err := json.Unmarshal([]byte(symbolsJSON), &wf.Symbols); err != nil {
			return nil, fmt.Errorf("unmarshal symbols: %w", err)
		}
		var metadata domain.WorkflowMetadata
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		wf.Metadata = metadata
		started, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		wf.StartedAt = started
		if completedAt.Valid {
			ct, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			wf.CompletedAt = &ct
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (o *Orchestrator) getWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowExecution, error) {
	row := o.db.Conn().QueryRowContext(ctx, `
		SELECT workflow_id, type, symbols, status, current_stage, started_at, completed_at, metadata
		FROM workflow_executions WHERE workflow_id = ?`, workflowID)

	var wf domain.WorkflowExecution
	var typ, status, currentStage, symbolsJSON, metadataJSON, startedAt string
	var completedAt sql.NullString
	if err := row.Scan(&wf.WorkflowID, &typ, &symbolsJSON, &status, &currentStage, &startedAt, &completedAt, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	wf.Type = domain.WorkflowType(typ)
	wf.Status = domain.RunStatus(status)
	wf.CurrentStage = domain.StageName(currentStage)
	if err := json.Unmarshal([]byte(symbolsJSON), &wf.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	var metadata domain.WorkflowMetadata
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	wf.Metadata = metadata
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	wf.StartedAt = t
	if completedAt.Valid {
		ct, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		wf.CompletedAt = &ct
	}
	return &wf, nil
}

func (o *Orchestrator) getStages(ctx context.Context, workflowID string) ([]domain.StageExecution, error) {
	rows, err := o.db.Conn().QueryContext(ctx, `
		SELECT stage_execution_id, workflow_id, stage_name, status, started_at, completed_at,
		       symbols_succeeded, symbols_failed, COALESCE(rerun_of, '')
		FROM workflow_stage_executions WHERE workflow_id = ? ORDER BY started_at`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StageExecution
	for rows.Next() {
		var s domain.StageExecution
		var stageName, status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&s.StageExecutionID, &s.WorkflowID, &stageName, &status, &startedAt, &completedAt,
			&s.SymbolsSucceeded, &s.SymbolsFailed, &s.RerunOf); err != nil {
			return nil, err
		}
		s.StageName = domain.StageName(stageName)
		s.Status = domain.RunStatus(status)
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		s.StartedAt = t
		if completedAt.Valid {
			ct, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, err
			}
			s.CompletedAt = &ct
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (o *Orchestrator) getSymbolStates(ctx context.Context, workflowID string) ([]domain.SymbolState, error) {
	rows, err := o.db.Conn().QueryContext(ctx, `
		SELECT workflow_id, symbol, stage, status, COALESCE(error_message, ''), retry_count, started_at, completed_at
		FROM workflow_symbol_states WHERE workflow_id = ? ORDER BY started_at`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SymbolState
	for rows.Next() {
		var s domain.SymbolState
		var stage, status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&s.WorkflowID, &s.Symbol, &stage, &status, &s.ErrorMessage, &s.RetryCount, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		s.Stage = domain.StageName(stage)
		s.Status = domain.RunStatus(status)
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		s.StartedAt = t
		if completedAt.Valid {
			ct, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, err
			}
			s.CompletedAt = &ct
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func nullableMessage(s string) any {
	if s == "" {
		return nil
	}
	return s
}
