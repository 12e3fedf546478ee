// Package persistence provides the execution store abstraction for workflows and their executions.
package persistence

import (
	"context"
	"time"

	"github.com/unifyos/unify/pkg/models"
)

// Persistence is the execution store. The orchestrator and services only talk
// to this interface, never to a concrete backing implementation.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings.
type ListWorkflowsOptions struct {
	OwnerID string
	Enabled *bool
}

// WorkflowRepository stores workflow definitions and their statistics.
type WorkflowRepository interface {
	// Save inserts or updates a workflow, assigning ID and timestamps when missing.
	Save(ctx context.Context, workflow *models.Workflow) error
	// GetByID returns ErrWorkflowNotFound for unknown or deleted workflows.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	// Match returns enabled, non-deleted workflows of the owner whose trigger
	// app and event match, in ascending creation order.
	Match(ctx context.Context, ownerID, app, event string) ([]*models.Workflow, error)
	// ListByTriggerApp returns enabled, non-deleted workflows of every owner
	// triggered by app.
	ListByTriggerApp(ctx context.Context, app string) ([]*models.Workflow, error)
	// Delete soft deletes the workflow.
	Delete(ctx context.Context, id string) error
	// IncrementExecutionCount atomically adds one to the execution counter and
	// bumps updated_at.
	IncrementExecutionCount(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records for audit history.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	// MarkRunning moves a pending execution to running. It returns
	// ErrExecutionNotPending when the execution is no longer pending.
	MarkRunning(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// ListByWorkflow returns executions of a workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	// InvalidatePending fails every pending execution of the workflow with the
	// given reason and returns how many were invalidated.
	InvalidatePending(ctx context.Context, workflowID, reason string, at time.Time) (int, error)
}
