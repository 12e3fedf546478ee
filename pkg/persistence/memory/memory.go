// Package memory provides an in-process persistence implementation backed by
// mutex-guarded tables. It is used by tests and by single-process development setups.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
)

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	workflows  *workflowTable
	executions *executionTable
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  &workflowTable{rows: make(map[string]*models.Workflow)},
		executions: &executionTable{rows: make(map[string]*models.WorkflowExecution)},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs any necessary cleanup. For in-memory persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type workflowTable struct {
	mu   sync.RWMutex
	rows map[string]*models.Workflow
}

func (t *workflowTable) Save(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	t.mu.Lock()
	defer t.mu.Unlock()

	// The counter is owned by IncrementExecutionCount; a save from the CRUD
	// layer must not roll it back.
	if existing, ok := t.rows[workflow.ID]; ok && existing.ExecutionCount > workflow.ExecutionCount {
		workflow.ExecutionCount = existing.ExecutionCount
	}

	stored, err := clone(workflow)
	if err != nil {
		return err
	}

	t.rows[workflow.ID] = stored

	return nil
}

func (t *workflowTable) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	workflow, ok := t.rows[id]
	if !ok || workflow.IsDeleted() {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return clone(workflow)
}

func (t *workflowTable) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	return t.filter(func(w *models.Workflow) bool {
		if opts.OwnerID != "" && w.OwnerID != opts.OwnerID {
			return false
		}

		return opts.Enabled == nil || w.Enabled == *opts.Enabled
	})
}

func (t *workflowTable) Match(_ context.Context, ownerID, app, event string) ([]*models.Workflow, error) {
	return t.filter(func(w *models.Workflow) bool {
		return w.Enabled &&
			w.OwnerID == ownerID &&
			w.Trigger.App == app &&
			w.Trigger.Event == event
	})
}

func (t *workflowTable) ListByTriggerApp(_ context.Context, app string) ([]*models.Workflow, error) {
	return t.filter(func(w *models.Workflow) bool {
		return w.Enabled && w.Trigger.App == app
	})
}

func (t *workflowTable) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	workflow, ok := t.rows[id]
	if !ok || workflow.IsDeleted() {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.Enabled = false
	workflow.UpdatedAt = now

	return nil
}

func (t *workflowTable) IncrementExecutionCount(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	workflow, ok := t.rows[id]
	if !ok {
		return persistence.NewWorkflowError("IncrementExecutionCount", id, persistence.ErrWorkflowNotFound)
	}

	workflow.ExecutionCount++
	workflow.UpdatedAt = time.Now().UTC()

	return nil
}

// filter returns copies of the non-deleted rows accepted by keep, ordered by
// ascending creation time.
func (t *workflowTable) filter(keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range t.rows {
		if workflow.IsDeleted() || !keep(workflow) {
			continue
		}

		copied, err := clone(workflow)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, copied)
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

type executionTable struct {
	mu   sync.RWMutex
	rows map[string]*models.WorkflowExecution
}

func (t *executionTable) Create(_ context.Context, execution *models.WorkflowExecution) error {
	stored, err := clone(execution)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rows[execution.ID]; exists {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("execution %s already exists", execution.ID))
	}

	t.rows[execution.ID] = stored

	return nil
}

func (t *executionTable) Update(_ context.Context, execution *models.WorkflowExecution) error {
	stored, err := clone(execution)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rows[execution.ID]; !exists {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	t.rows[execution.ID] = stored

	return nil
}

func (t *executionTable) MarkRunning(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	execution, exists := t.rows[id]
	if !exists {
		return persistence.NewExecutionError("MarkRunning", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.ExecutionStatusPending {
		return persistence.NewExecutionError("MarkRunning", id, persistence.ErrExecutionNotPending)
	}

	execution.Status = models.ExecutionStatusRunning

	return nil
}

func (t *executionTable) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	execution, exists := t.rows[id]
	if !exists {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return clone(execution)
}

func (t *executionTable) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, execution := range t.rows {
		if execution.WorkflowID != workflowID {
			continue
		}

		copied, err := clone(execution)
		if err != nil {
			return nil, err
		}

		executions = append(executions, copied)
	}

	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		return strings.Compare(b.ID, a.ID)
	})

	return executions, nil
}

func (t *executionTable) InvalidatePending(_ context.Context, workflowID, reason string, at time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0

	for _, execution := range t.rows {
		if execution.WorkflowID != workflowID || execution.Status != models.ExecutionStatusPending {
			continue
		}

		finishedAt := at
		execution.Status = models.ExecutionStatusFailed
		execution.Error = reason
		execution.FinishedAt = &finishedAt
		count++
	}

	return count, nil
}

// clone deep copies a row through its JSON form so callers never share
// mutable state with the table.
func clone[T any](value *T) (*T, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}

	var copied T

	err = json.Unmarshal(data, &copied)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}

	return &copied, nil
}
