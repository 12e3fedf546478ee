package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
)

// IsTerminal reports whether no further transition can happen.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusPartial
}

// ActionStatus is the outcome of one action inside an execution.
type ActionStatus string

const (
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusSkipped   ActionStatus = "skipped"
)

// Error reasons recorded on action results and executions.
const (
	ReasonNotConnected     = "not_connected"
	ReasonTimeout          = "timeout"
	ReasonExecutorNotFound = "executor_not_found"
	ReasonNoActions        = "no_actions"
	ReasonWorkflowDeleted  = "workflow_deleted"
)

// WorkflowExecution is one recorded attempt to run a workflow's action chain.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	EventID       string          `json:"event_id,omitempty"`
	TriggerData   map[string]any  `json:"trigger_data"`
	ActionResults []ActionResult  `json:"action_results"`
	Error         string          `json:"error,omitempty"`
	TestRun       bool            `json:"test_run"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// ActionResult records the outcome of the action at ActionIndex.
type ActionResult struct {
	ActionIndex int          `json:"action_index"`
	App         string       `json:"app"`
	Task        string       `json:"task"`
	Status      ActionStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// NewExecutionPlan builds a pending execution with one skipped result per action.
func NewExecutionPlan(id, workflowID string, actions []Action, event *TriggerEvent, now time.Time) *WorkflowExecution {
	results := make([]ActionResult, len(actions))
	for i, action := range actions {
		results[i] = ActionResult{
			ActionIndex: i,
			App:         action.App,
			Task:        action.Task,
			Status:      ActionStatusSkipped,
		}
	}

	triggerData := make(map[string]any, len(event.Payload))
	for k, v := range event.Payload {
		triggerData[k] = v
	}

	return &WorkflowExecution{
		ID:            id,
		WorkflowID:    workflowID,
		Status:        ExecutionStatusPending,
		EventID:       event.EventID,
		TriggerData:   triggerData,
		ActionResults: results,
		StartedAt:     now,
	}
}

// FinalStatus derives the terminal status from the action results.
//
// All succeeded yields succeeded; no success with at least one failure yields
// failed; anything else yields partial.
func (e *WorkflowExecution) FinalStatus() ExecutionStatus {
	succeeded, failed := 0, 0

	for _, result := range e.ActionResults {
		switch result.Status {
		case ActionStatusSucceeded:
			succeeded++
		case ActionStatusFailed:
			failed++
		case ActionStatusSkipped:
		}
	}

	switch {
	case len(e.ActionResults) > 0 && succeeded == len(e.ActionResults):
		return ExecutionStatusSucceeded
	case succeeded == 0:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusPartial
	}
}

// Finish stamps the terminal status and finish time.
func (e *WorkflowExecution) Finish(now time.Time) {
	e.Status = e.FinalStatus()
	e.FinishedAt = &now
}
