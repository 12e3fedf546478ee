package persistence_test

import (
	"errors"
	"testing"

	"github.com/unifyos/unify/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("GetByID", "exec-1", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsWorkflowNotFound(executionErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("IncrementExecutionCount", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "IncrementExecutionCount")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("unavailable keeps both causes", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := persistence.Unavailable("create execution", cause)

		assert.True(t, persistence.IsStoreUnavailable(err))
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "create execution")
	})
}
