package web

import (
	"time"

	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/services"
)

type TriggerRequest struct {
	App    string         `json:"app"    validate:"required"`
	Event  string         `json:"event"  validate:"required"`
	Config map[string]any `json:"config"`
}

type ActionRequest struct {
	App    string         `json:"app"    validate:"required"`
	Task   string         `json:"task"   validate:"required"`
	Config map[string]any `json:"config"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Workflows are created active unless enabled is false.
type CreateWorkflowRequest struct {
	OwnerID string          `json:"owner_id" validate:"required"`
	Name    string          `json:"name"     validate:"required"`
	Trigger TriggerRequest  `json:"trigger"  validate:"required"`
	Actions []ActionRequest `json:"actions"  validate:"dive"`
	Enabled *bool           `json:"enabled,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name    *string         `json:"name,omitempty"    validate:"omitempty,min=1"`
	Trigger *TriggerRequest `json:"trigger,omitempty"`
	Actions []ActionRequest `json:"actions,omitempty" validate:"omitempty,dive"`
}

func (r CreateWorkflowRequest) toModel() *models.Workflow {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return &models.Workflow{
		OwnerID: r.OwnerID,
		Name:    r.Name,
		Trigger: r.Trigger.toModel(),
		Actions: toActions(r.Actions),
		Enabled: enabled,
	}
}

func (r UpdateWorkflowRequest) toService() services.UpdateWorkflowRequest {
	req := services.UpdateWorkflowRequest{Name: r.Name}

	if r.Trigger != nil {
		trigger := r.Trigger.toModel()
		req.Trigger = &trigger
	}

	if r.Actions != nil {
		req.Actions = toActions(r.Actions)
	}

	return req
}

func (t TriggerRequest) toModel() models.Trigger {
	return models.Trigger{App: t.App, Event: t.Event, Config: t.Config}
}

func toActions(requests []ActionRequest) []models.Action {
	if requests == nil {
		return nil
	}

	actions := make([]models.Action, len(requests))
	for i, action := range requests {
		actions[i] = models.Action{App: action.App, Task: action.Task, Config: action.Config}
	}

	return actions
}

// WorkflowResponse adds the active/paused label to a workflow.
type WorkflowResponse struct {
	*models.Workflow

	Status string `json:"status"`
}

func NewWorkflowResponse(workflow *models.Workflow) WorkflowResponse {
	return WorkflowResponse{Workflow: workflow, Status: workflow.Status()}
}

// ListWorkflowsResponse is the body of GET /workflows.
type ListWorkflowsResponse struct {
	Workflows []WorkflowResponse `json:"workflows"`
	Meta      services.ListMeta  `json:"meta"`
}

// TestWorkflowResponse is the outcome of a manual test run.
type TestWorkflowResponse struct {
	ExecutionID   string                 `json:"execution_id"`
	Status        models.ExecutionStatus `json:"status"`
	Error         string                 `json:"error,omitempty"`
	ActionResults []models.ActionResult  `json:"action_results"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

func NewTestWorkflowResponse(execution *models.WorkflowExecution) TestWorkflowResponse {
	return TestWorkflowResponse{
		ExecutionID:   execution.ID,
		Status:        execution.Status,
		Error:         execution.Error,
		ActionResults: execution.ActionResults,
		StartedAt:     execution.StartedAt,
		FinishedAt:    execution.FinishedAt,
	}
}
