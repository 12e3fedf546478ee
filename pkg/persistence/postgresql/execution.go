package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
)

const executionColumns = `
	id
  , workflow_id
  , status
  , event_id
  , trigger_data
  , action_results
  , error_message
  , test_run
  , started_at
  , finished_at
`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerDataJSON, resultsJSON, err := marshalExecution(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, status, event_id, trigger_data,
			action_results, error_message, test_run, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		nullString(execution.EventID),
		triggerDataJSON,
		resultsJSON,
		nullString(execution.Error),
		execution.TestRun,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return persistence.Unavailable("create execution", err)
	}

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	_, resultsJSON, err := marshalExecution(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, action_results = $3, error_message = $4, finished_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		resultsJSON,
		nullString(execution.Error),
		execution.FinishedAt,
	)
	if err != nil {
		return persistence.Unavailable("update execution", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.Unavailable("update execution", err)
	}

	if rowsAffected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) MarkRunning(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = 'running' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return persistence.Unavailable("mark execution running", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.Unavailable("mark execution running", err)
	}

	if rowsAffected == 1 {
		return nil
	}

	_, err = r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return persistence.NewExecutionError("MarkRunning", id, persistence.ErrExecutionNotPending)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.Unavailable("get execution", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	if uuid.Validate(workflowID) != nil {
		return []*models.WorkflowExecution{}, nil
	}

	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.Unavailable("list executions", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.Unavailable("list executions", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.Unavailable("list executions", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) InvalidatePending(ctx context.Context, workflowID, reason string, at time.Time) (int, error) {
	if uuid.Validate(workflowID) != nil {
		return 0, nil
	}

	query := `
		UPDATE workflow_executions
		SET status = 'failed', error_message = $2, finished_at = $3
		WHERE workflow_id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, workflowID, reason, at)
	if err != nil {
		return 0, persistence.Unavailable("invalidate pending executions", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.Unavailable("invalidate pending executions", err)
	}

	return int(rowsAffected), nil
}

func marshalExecution(execution *models.WorkflowExecution) ([]byte, []byte, error) {
	triggerDataJSON, err := json.Marshal(nonNilMap(execution.TriggerData))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	results := execution.ActionResults
	if results == nil {
		results = []models.ActionResult{}
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal action results: %w", err)
	}

	return triggerDataJSON, resultsJSON, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		eventID         sql.NullString
		errorMessage    sql.NullString
		triggerDataJSON []byte
		resultsJSON     []byte
		finishedAt      sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&eventID,
		&triggerDataJSON,
		&resultsJSON,
		&errorMessage,
		&execution.TestRun,
		&execution.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.EventID = eventID.String
	execution.Error = errorMessage.String

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	err = json.Unmarshal(triggerDataJSON, &execution.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	err = json.Unmarshal(resultsJSON, &execution.ActionResults)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal action results: %w", err)
	}

	return &execution, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
