package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/scheduler"
)

// ActionValidator checks an action against the registered executors.
type ActionValidator interface {
	ValidateAction(action models.Action) error
}

// Runner runs a workflow for a synthesized trigger event.
type Runner interface {
	RunWorkflow(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (*models.WorkflowExecution, error)
}

type Workflow struct {
	persistence persistence.Persistence
	credentials credentials.Store
	actions     ActionValidator
	runner      Runner
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(
	persistence persistence.Persistence,
	creds credentials.Store,
	actions ActionValidator,
	runner Runner,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		credentials: creds,
		actions:     actions,
		runner:      runner,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	OwnerID string
	Enabled *bool
}

// ListMeta summarizes a workflow listing.
type ListMeta struct {
	Total           int   `json:"total"`
	Active          int   `json:"active"`
	TotalExecutions int64 `json:"total_executions"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows []*models.Workflow `json:"workflows"`
	Meta      ListMeta           `json:"meta"`
}

func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if req.OwnerID != "" && ownerID == "" {
		return nil, ErrEmptyOwnerID
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		OwnerID: ownerID,
		Enabled: req.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	meta := ListMeta{Total: len(workflows)}

	for _, workflow := range workflows {
		if workflow.Enabled {
			meta.Active++
		}

		meta.TotalExecutions += workflow.ExecutionCount
	}

	return &ListWorkflowsResponse{Workflows: workflows, Meta: meta}, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create validates and stores a new workflow. The owner must already have
// connected the trigger app; schedule triggers only need a valid expression.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow.ID = ""
	workflow.ExecutionCount = 0
	workflow.DeletedAt = nil
	workflow.CreatedAt = time.Time{}

	err := w.validateWorkflow(ctx, "Create", workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID,
		"owner_id", workflow.OwnerID,
		"trigger_app", workflow.Trigger.App,
		"actions", len(workflow.Actions))

	return workflow, nil
}

// UpdateWorkflowRequest holds the editable fields; nil fields are unchanged.
type UpdateWorkflowRequest struct {
	Name    *string
	Trigger *models.Trigger
	Actions []models.Action
}

// Update edits name, trigger or actions. In-flight executions keep the
// action snapshot they started with.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateWorkflowRequest) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Trigger != nil {
		workflow.Trigger = *req.Trigger
	}

	if req.Actions != nil {
		workflow.Actions = req.Actions
	}

	err = w.validateWorkflow(ctx, "Update", workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// SetEnabled activates or pauses a workflow. A workflow without actions
// cannot be enabled.
func (w *Workflow) SetEnabled(ctx context.Context, workflowID string, enabled bool) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if enabled && len(workflow.Actions) == 0 {
		return nil, NewValidationError("SetEnabled", "NO_ACTIONS", "workflow must have at least one action", ErrWorkflowHasNoActions)
	}

	if workflow.Enabled == enabled {
		return workflow, nil
	}

	workflow.Enabled = enabled

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflowID, "status", workflow.Status())

	return workflow, nil
}

// Delete soft deletes a workflow and fails its pending executions.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return err
	}

	invalidated, err := w.persistence.ExecutionRepository().InvalidatePending(ctx, workflowID, models.ReasonWorkflowDeleted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to invalidate pending executions: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID, "invalidated_executions", invalidated)

	return nil
}

// ListExecutions returns the execution history of a workflow, newest first.
// History stays readable after the workflow is deleted.
func (w *Workflow) ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return w.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
}

func (w *Workflow) GetExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return w.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// Test runs the workflow through the regular execution path with a
// synthesized event. The payload is trigger.config.sample_payload when set.
// Disabled workflows can be tested; credentials are not bypassed.
func (w *Workflow) Test(ctx context.Context, workflowID string) (*models.WorkflowExecution, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if sample, ok := workflow.Trigger.Config["sample_payload"].(map[string]any); ok {
		payload = ingest.Flatten(sample)
	}

	event := &models.TriggerEvent{
		App:        workflow.Trigger.App,
		EventType:  workflow.Trigger.Event,
		UserID:     workflow.OwnerID,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
		TestRun:    true,
	}

	execution, err := w.runner.RunWorkflow(ctx, workflow, event)
	if err != nil {
		return nil, fmt.Errorf("failed to run workflow test: %w", err)
	}

	return execution, nil
}

func (w *Workflow) validateWorkflow(ctx context.Context, op string, workflow *models.Workflow) error {
	workflow.Name = strings.TrimSpace(workflow.Name)
	workflow.OwnerID = strings.TrimSpace(workflow.OwnerID)

	if len(workflow.Actions) == 0 {
		return NewValidationError(op, "NO_ACTIONS", "workflow must have at least one action", ErrWorkflowHasNoActions)
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		return NewValidationError(op, "INVALID_WORKFLOW", validationMessage(err), ErrInvalidRequest)
	}

	for i, action := range workflow.Actions {
		err := w.actions.ValidateAction(action)
		if err != nil {
			return NewValidationError(op, "INVALID_ACTION", fmt.Sprintf("actions[%d]: %v", i, err), ErrInvalidAction)
		}
	}

	if workflow.Trigger.App == scheduler.App {
		err := scheduler.ValidateTrigger(workflow.Trigger)
		if err != nil {
			return NewValidationError(op, "INVALID_TRIGGER", err.Error(), ErrInvalidTrigger)
		}

		return nil
	}

	connected, err := w.credentials.Connected(ctx, workflow.OwnerID, workflow.Trigger.App)
	if err != nil {
		return fmt.Errorf("failed to check trigger credential: %w", err)
	}

	if !connected {
		return &ServiceError{
			Op:      op,
			Code:    "TRIGGER_APP_NOT_CONNECTED",
			Message: fmt.Sprintf("connect %s before creating a workflow triggered by it", workflow.Trigger.App),
			Err:     ErrTriggerAppNotConnected,
		}
	}

	return nil
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return strings.Join(fields, "; ")
}
