package domain

import "time"

// WorkflowType mirrors RefreshMode for the workflow that triggered it.
type WorkflowType string

const (
	WorkflowOnDemand  WorkflowType = "on_demand"
	WorkflowScheduled WorkflowType = "scheduled"
	WorkflowPeriodic  WorkflowType = "periodic"
	WorkflowLive      WorkflowType = "live"
)

// RunStatus is the lifecycle status shared by workflows, stages and
// symbol states.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // symbol-state only
)

// StageName enumerates the fixed stage sequence a workflow progresses
// through: ingestion -> indicators -> (fundamentals || earnings || industry_peers).
type StageName string

const (
	StageIngestion     StageName = "ingestion"
	StageIndicators    StageName = "indicators"
	StageFundamentals  StageName = "fundamentals"
	StageEarnings      StageName = "earnings"
	StageIndustryPeers StageName = "industry_peers"
)

// Blocking reports whether a failure of this stage fails the owning
// workflow. Non-blocking
// stages only contribute to the metadata's failed_stages list.
func (s StageName) Blocking() bool {
	return s == StageIngestion
}

// WorkflowExecution is the top-level audit record of one refresh run.
type WorkflowExecution struct {
	StartedAt    time.Time
	CompletedAt  *time.Time
	WorkflowID   string
	Type         WorkflowType
	Status       RunStatus
	CurrentStage StageName
	Symbols      []string
	Metadata     WorkflowMetadata
}

// WorkflowMetadata aggregates cross-stage bookkeeping for a workflow.
type WorkflowMetadata struct {
	StageErrors        map[string]string `json:"stage_errors"`
	FailedStages        []string          `json:"failed_stages"`
	FailedDataTypes      []string          `json:"failed_data_types"`
	SymbolsSucceeded    int               `json:"symbols_succeeded"`
	SymbolsFailed       int               `json:"symbols_failed"`
	Error               string            `json:"error,omitempty"`
}

// NewWorkflowMetadata returns a zero-value metadata block with initialized maps.
func NewWorkflowMetadata() WorkflowMetadata {
	return WorkflowMetadata{StageErrors: make(map[string]string)}
}

// StageExecution is one stage run within a workflow.
type StageExecution struct {
	StartedAt        time.Time
	CompletedAt      *time.Time
	StageExecutionID string
	WorkflowID       string
	StageName        StageName
	Status           RunStatus
	SymbolsSucceeded int
	SymbolsFailed    int
	Metadata         map[string]any
	// RerunOf links a targeted re-run to the stage execution it supersedes,
	// rather than mutating the original record.
	RerunOf string
}

// SymbolState is the per-symbol, per-stage progress record within a workflow.
type SymbolState struct {
	StartedAt   time.Time
	CompletedAt *time.Time
	WorkflowID  string
	Symbol      string
	Stage       StageName
	Status      RunStatus
	ErrorMessage string
	RetryCount  int
}

// WorkflowSummary is the read-model returned by getWorkflowSummary.
type WorkflowSummary struct {
	Workflow     WorkflowExecution
	Stages       []StageExecution
	SymbolStates []SymbolState
	Counts       map[string]int
}
