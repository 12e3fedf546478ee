package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
)

const workflowColumns = `
	id
  , owner_id
  , name
  , trigger_app
  , trigger_event
  , trigger_config
  , actions
  , enabled
  , execution_count
  , created_at
  , updated_at
  , deleted_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save inserts or updates a workflow. The execution counter is never
// overwritten by a save.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	triggerConfigJSON, err := json.Marshal(nonNilMap(workflow.Trigger.Config))
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	actionsJSON, err := json.Marshal(workflow.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO workflows (id, owner_id, name, trigger_app, trigger_event, trigger_config,
			actions, enabled, execution_count, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			trigger_app = EXCLUDED.trigger_app,
			trigger_event = EXCLUDED.trigger_event,
			trigger_config = EXCLUDED.trigger_config,
			actions = EXCLUDED.actions,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
		RETURNING execution_count
	`

	err = r.db.QueryRowContext(ctx, query,
		workflow.ID,
		workflow.OwnerID,
		workflow.Name,
		workflow.Trigger.App,
		workflow.Trigger.Event,
		triggerConfigJSON,
		actionsJSON,
		workflow.Enabled,
		workflow.ExecutionCount,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	).Scan(&workflow.ExecutionCount)
	if err != nil {
		return persistence.Unavailable("save workflow", err)
	}

	return nil
}

// GetByID returns a non-deleted workflow.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND deleted_at IS NULL`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.Unavailable("get workflow", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	conditions := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 2)

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}

	if opts.Enabled != nil {
		args = append(args, *opts.Enabled)
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", len(args)))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at, id`

	return r.query(ctx, "list workflows", query, args...)
}

func (r *WorkflowRepository) Match(ctx context.Context, ownerID, app, event string) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE owner_id = $1
		  AND trigger_app = $2
		  AND trigger_event = $3
		  AND enabled
		  AND deleted_at IS NULL
		ORDER BY created_at, id
	`

	return r.query(ctx, "match workflows", query, ownerID, app, event)
}

func (r *WorkflowRepository) ListByTriggerApp(ctx context.Context, app string) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE trigger_app = $1 AND enabled AND deleted_at IS NULL
		ORDER BY created_at, id
	`

	return r.query(ctx, "list workflows by trigger app", query, app)
}

// Delete soft deletes a workflow by setting deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	query := `
		UPDATE workflows
		SET deleted_at = NOW(), enabled = false, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.Unavailable("delete workflow", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.Unavailable("delete workflow", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) IncrementExecutionCount(ctx context.Context, id string) error {
	query := `
		UPDATE workflows
		SET execution_count = execution_count + 1, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.Unavailable("increment execution count", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.Unavailable("increment execution count", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("IncrementExecutionCount", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, op, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.Unavailable(op, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, persistence.Unavailable(op, err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.Unavailable(op, err)
	}

	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow          models.Workflow
		triggerConfigJSON []byte
		actionsJSON       []byte
		deletedAt         sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.OwnerID,
		&workflow.Name,
		&workflow.Trigger.App,
		&workflow.Trigger.Event,
		&triggerConfigJSON,
		&actionsJSON,
		&workflow.Enabled,
		&workflow.ExecutionCount,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConfigJSON) > 0 {
		err = json.Unmarshal(triggerConfigJSON, &workflow.Trigger.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if len(actionsJSON) > 0 {
		err = json.Unmarshal(actionsJSON, &workflow.Actions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}

	if deletedAt.Valid {
		workflow.DeletedAt = &deletedAt.Time
	}

	return &workflow, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
