package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/channels/gochannel"
	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/models"
)

const devConfig = `
connections:
  - user_id: user-1
    app: gmail
    access_token: dev
`

func setupWorker(t *testing.T) (*WorkerManager, *cmd.Runtime, eventbus.EventBus) {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "unify.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(devConfig), 0o600))

	logger := slog.New(slog.DiscardHandler)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)

	rt, err := cmd.NewRuntime(t.Context(), logger, cmd.RuntimeOptions{
		ServiceName: "unify-worker",
		ConfigFile:  configFile,
		DatabaseURL: "memory://",
		Publisher:   bus,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = rt.Close()
		_ = bus.Close()
	})

	return NewWorkerManager("test-worker-1", rt, bus, logger), rt, bus
}

func saveWorkflow(t *testing.T, rt *cmd.Runtime) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		OwnerID: "user-1",
		Name:    "Log new emails",
		Trigger: models.Trigger{App: "gmail", Event: "new_email"},
		Actions: []models.Action{{App: "log", Task: "write", Config: map[string]any{"message": "{{ .trigger.subject }}"}}},
		Enabled: true,
	}
	require.NoError(t, rt.Stores.Persistence.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func TestNewWorkerManager(t *testing.T) {
	wm, _, _ := setupWorker(t)

	assert.Equal(t, "test-worker-1", wm.id)
	assert.NotNil(t, wm.engine)
	assert.NotNil(t, wm.scheduler)
}

func TestWorkerManager_HandleTriggerReceived(t *testing.T) {
	wm, rt, _ := setupWorker(t)
	wf := saveWorkflow(t, rt)

	received := &events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, ""),
		App:       "gmail",
		EventType: "new_email",
		EventID:   "m1",
		UserID:    "user-1",
		Body:      map[string]any{"subject": "Invoice"},
	}

	require.NoError(t, wm.handleTriggerReceived(t.Context(), received))
	require.NoError(t, wm.handleTriggerReceived(t.Context(), received), "duplicates are acked")

	executions, err := rt.Stores.Persistence.ExecutionRepository().ListByWorkflow(t.Context(), wf.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusSucceeded, executions[0].Status)

	invalid := &events.TriggerReceived{App: "gmail", EventType: "new_email"}
	require.NoError(t, wm.handleTriggerReceived(t.Context(), invalid), "invalid events are acked")

	require.NoError(t, wm.handleTriggerReceived(t.Context(), "not an event"))
}

func TestWorkerManager_ConsumesBus(t *testing.T) {
	wm, rt, bus := setupWorker(t)
	wf := saveWorkflow(t, rt)

	finished := make(chan *events.ExecutionFinished, 1)
	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionFinished)

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- wm.Start(ctx)
	}()

	require.NoError(t, bus.Publish(t.Context(), "gmail", events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, ""),
		App:       "gmail",
		EventType: "new_email",
		EventID:   "m2",
		UserID:    "user-1",
		Body:      map[string]any{"subject": "Invoice"},
	}))

	select {
	case event := <-finished:
		assert.Equal(t, wf.ID, event.WorkflowID)
		assert.Equal(t, models.ExecutionStatusSucceeded, event.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
	}

	cancel()
	require.NoError(t, <-done)
}
