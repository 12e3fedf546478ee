package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/models"
)

func TestWorkflowExecution_FinalStatus(t *testing.T) {
	const (
		ok      = models.ActionStatusSucceeded
		failed  = models.ActionStatusFailed
		skipped = models.ActionStatusSkipped
	)

	tests := []struct {
		name     string
		results  []models.ActionStatus
		expected models.ExecutionStatus
	}{
		{"all succeeded", []models.ActionStatus{ok, ok, ok}, models.ExecutionStatusSucceeded},
		{"first failed", []models.ActionStatus{failed, skipped, skipped}, models.ExecutionStatusFailed},
		{"second failed", []models.ActionStatus{ok, failed, skipped}, models.ExecutionStatusPartial},
		{"last failed", []models.ActionStatus{ok, ok, failed}, models.ExecutionStatusPartial},
		{"no actions", nil, models.ExecutionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution := &models.WorkflowExecution{}
			for i, status := range tt.results {
				execution.ActionResults = append(execution.ActionResults, models.ActionResult{ActionIndex: i, Status: status})
			}

			assert.Equal(t, tt.expected, execution.FinalStatus())

			now := time.Now().UTC()
			execution.Finish(now)
			assert.Equal(t, tt.expected, execution.Status)
			assert.True(t, execution.Status.IsTerminal())
			require.NotNil(t, execution.FinishedAt)
			assert.Equal(t, now, *execution.FinishedAt)
		})
	}
}

func TestNewExecutionPlan(t *testing.T) {
	event := &models.TriggerEvent{App: "gmail", EventType: "new_email", EventID: "m1", Payload: map[string]any{"subject": "hi"}}
	actions := []models.Action{{App: "slack", Task: "send_message"}, {App: "log", Task: "write"}}
	now := time.Now().UTC()

	execution := models.NewExecutionPlan("exec-1", "wf-1", actions, event, now)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.False(t, execution.Status.IsTerminal())
	assert.Equal(t, "m1", execution.EventID)
	assert.Equal(t, now, execution.StartedAt)
	require.Len(t, execution.ActionResults, 2)
	assert.Equal(t, models.ActionResult{ActionIndex: 1, App: "log", Task: "write", Status: models.ActionStatusSkipped}, execution.ActionResults[1])

	event.Payload["subject"] = "changed"
	assert.Equal(t, "hi", execution.TriggerData["subject"])
}

func TestWorkflow_SnapshotActions(t *testing.T) {
	workflow := &models.Workflow{
		Actions: []models.Action{{App: "slack", Task: "send_message", Config: map[string]any{"channel": "#a"}}},
	}

	snapshot := workflow.SnapshotActions()
	workflow.Actions[0].Config["channel"] = "#b"
	workflow.Actions = append(workflow.Actions, models.Action{App: "log", Task: "write"})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "#a", snapshot[0].Config["channel"])
}

func TestWorkflow_Status(t *testing.T) {
	workflow := &models.Workflow{Enabled: true}
	assert.Equal(t, "active", workflow.Status())
	assert.False(t, workflow.IsDeleted())

	workflow.Enabled = false
	assert.Equal(t, "paused", workflow.Status())

	now := time.Now()
	workflow.DeletedAt = &now
	assert.True(t, workflow.IsDeleted())
}

func TestTriggerEvent_DedupKey(t *testing.T) {
	assert.Equal(t, "slack:Ev1", (&models.TriggerEvent{App: "slack", EventID: "Ev1"}).DedupKey())
	assert.Empty(t, (&models.TriggerEvent{App: "slack"}).DedupKey())
}
