package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence/memory"
	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/workflow"
)

func TestOrchestrator_AllActionsSucceed(t *testing.T) {
	chat := &fakeExecutor{app: "chat", requiresToken: true}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat})
	f.tokens.Connect(models.Token{UserID: "user-1", App: "chat", AccessToken: "secret"})

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat", "chat", "chat")})

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent("m1"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
	assert.Equal(t, []models.ActionStatus{
		models.ActionStatusSucceeded, models.ActionStatusSucceeded, models.ActionStatusSucceeded,
	}, statuses(execution))
	assert.NotNil(t, execution.FinishedAt)
	assert.Equal(t, "Invoice", execution.TriggerData["subject"])

	calls := chat.Calls()
	require.Len(t, calls, 3)

	for i, call := range calls {
		assert.Equal(t, i, call.Action.Config["index"])
		assert.Equal(t, "secret", call.Token.AccessToken)
		assert.Equal(t, execution.ID, call.ExecutionID)
		assert.Equal(t, "Invoice", call.Payload["subject"])
	}

	stored, err := f.store.ExecutionRepository().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)

	assert.Equal(t, int64(1), f.reload(t, wf.ID).ExecutionCount)
}

func TestOrchestrator_FailureAbortsChain(t *testing.T) {
	tests := []struct {
		name     string
		failAt   int
		expected models.ExecutionStatus
	}{
		{"first action fails", 0, models.ExecutionStatusFailed},
		{"middle action fails", 1, models.ExecutionStatusPartial},
		{"last action fails", 2, models.ExecutionStatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeExecutor{app: "chat", execute: func(_ context.Context, req protocol.Request) (map[string]any, error) {
				if req.Action.Config["index"] == tt.failAt {
					return nil, protocol.NewActionError("chat", "send", "channel_not_found")
				}

				return map[string]any{}, nil
			}}
			f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat})

			wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat", "chat", "chat")})

			execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
			require.NoError(t, err)

			assert.Equal(t, tt.expected, execution.Status)
			assert.Len(t, chat.Calls(), tt.failAt+1)

			for i, result := range execution.ActionResults {
				switch {
				case i < tt.failAt:
					assert.Equal(t, models.ActionStatusSucceeded, result.Status)
				case i == tt.failAt:
					assert.Equal(t, models.ActionStatusFailed, result.Status)
					assert.Equal(t, "channel_not_found", result.Error)
				default:
					assert.Equal(t, models.ActionStatusSkipped, result.Status)
					assert.Nil(t, result.StartedAt)
				}
			}

			assert.Equal(t, int64(1), f.reload(t, wf.ID).ExecutionCount)
		})
	}
}

func TestOrchestrator_ActionTimeout(t *testing.T) {
	chat := &fakeExecutor{app: "chat", execute: func(ctx context.Context, req protocol.Request) (map[string]any, error) {
		if req.Action.Config["index"] == 1 {
			<-ctx.Done()

			return nil, ctx.Err()
		}

		return map[string]any{}, nil
	}}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat}, workflow.WithActionTimeout(50*time.Millisecond))

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat", "chat", "chat")})

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPartial, execution.Status)
	assert.Equal(t, []models.ActionStatus{
		models.ActionStatusSucceeded, models.ActionStatusFailed, models.ActionStatusSkipped,
	}, statuses(execution))
	assert.Equal(t, models.ReasonTimeout, execution.ActionResults[1].Error)
}

func TestOrchestrator_ActionTimeoutIgnoredByExecutor(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stubborn := &fakeExecutor{app: "stubborn", execute: func(context.Context, protocol.Request) (map[string]any, error) {
		<-release

		return map[string]any{}, nil
	}}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{stubborn}, workflow.WithActionTimeout(50*time.Millisecond))

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("stubborn", "stubborn")})

	start := time.Now()
	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, []models.ActionStatus{models.ActionStatusFailed, models.ActionStatusSkipped}, statuses(execution))
	assert.Equal(t, models.ReasonTimeout, execution.ActionResults[0].Error)
	assert.Len(t, stubborn.Calls(), 1)
}

func TestOrchestrator_CredentialAndExecutorFailures(t *testing.T) {
	chat := &fakeExecutor{app: "chat", requiresToken: true}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat})

	t.Run("not connected", func(t *testing.T) {
		wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat")})

		execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		assert.Equal(t, models.ActionStatusFailed, execution.ActionResults[0].Status)
		assert.Equal(t, models.ReasonNotConnected, execution.ActionResults[0].Error)
		assert.Empty(t, chat.Calls())
	})

	t.Run("unknown app without credential", func(t *testing.T) {
		wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("ghost")})

		execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
		require.NoError(t, err)

		assert.Equal(t, models.ReasonNotConnected, execution.ActionResults[0].Error)
	})

	t.Run("unknown app with credential", func(t *testing.T) {
		f.tokens.Connect(models.Token{UserID: "user-1", App: "ghost", AccessToken: "x"})

		wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("ghost")})

		execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		assert.Equal(t, models.ReasonExecutorNotFound, execution.ActionResults[0].Error)
	})

	t.Run("plain executor error", func(t *testing.T) {
		broken := &fakeExecutor{app: "broken", execute: func(context.Context, protocol.Request) (map[string]any, error) {
			return nil, errors.New("connection reset")
		}}
		require.NoError(t, f.registry.Register(broken))

		wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("broken")})

		execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
		require.NoError(t, err)

		assert.Equal(t, "connection reset", execution.ActionResults[0].Error)
	})

	t.Run("executor panic", func(t *testing.T) {
		panicky := &fakeExecutor{app: "panicky", execute: func(context.Context, protocol.Request) (map[string]any, error) {
			panic("boom")
		}}
		require.NoError(t, f.registry.Register(panicky))

		wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("panicky")})

		execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		assert.Contains(t, execution.ActionResults[0].Error, "boom")
	})
}

func TestOrchestrator_NoActions(t *testing.T) {
	f := newFixture(t, memory.NewPersistence(), nil)

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true})

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ReasonNoActions, execution.Error)
	assert.Empty(t, execution.ActionResults)
	assert.Equal(t, int64(1), f.reload(t, wf.ID).ExecutionCount)
}

func TestOrchestrator_ConcurrentRunsCountEveryAttempt(t *testing.T) {
	chat := &fakeExecutor{app: "chat"}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat})

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat")})

	const runs = 25

	var wg sync.WaitGroup

	for range runs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(runs), f.reload(t, wf.ID).ExecutionCount)

	executions, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Len(t, executions, runs)
}

func TestOrchestrator_SnapshotIgnoresLaterEdits(t *testing.T) {
	f := newFixture(t, memory.NewPersistence(), nil)

	var wf *models.Workflow

	chat := &fakeExecutor{app: "chat", execute: func(context.Context, protocol.Request) (map[string]any, error) {
		wf.Actions = append(wf.Actions, models.Action{App: "chat", Task: "send"})

		return map[string]any{}, nil
	}}
	require.NoError(t, f.registry.Register(chat))

	wf = f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat", "chat")})

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.NoError(t, err)

	assert.Len(t, execution.ActionResults, 2)
	assert.Len(t, chat.Calls(), 2)
}

func TestOrchestrator_InvalidatedExecutionDoesNotRun(t *testing.T) {
	chat := &fakeExecutor{app: "chat"}
	f := newFixture(t, invalidatingStore{memory.NewPersistence()}, []*fakeExecutor{chat})

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat")})

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ReasonWorkflowDeleted, execution.Error)
	assert.Empty(t, chat.Calls())
	assert.Zero(t, f.reload(t, wf.ID).ExecutionCount)
}

func TestOrchestrator_StoreUnavailable(t *testing.T) {
	chat := &fakeExecutor{app: "chat"}
	store := &flakyStore{Persistence: memory.NewPersistence()}
	f := newFixture(t, store, []*fakeExecutor{chat})

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat")})

	store.failing.Store(true)

	execution, err := f.orchestrator.Run(context.Background(), wf, newEvent(""))
	require.Error(t, err)
	assert.Nil(t, execution)
	assert.Empty(t, chat.Calls())
	assert.Equal(t, int64(0), f.reload(t, wf.ID).ExecutionCount)
}

func TestOrchestrator_PublishesLifecycleEvents(t *testing.T) {
	chat := &fakeExecutor{app: "chat"}
	f := newFixture(t, memory.NewPersistence(), []*fakeExecutor{chat})

	wf := f.saveWorkflow(t, &models.Workflow{Enabled: true, Actions: actionsFor("chat")})

	event := newEvent("")
	event.TestRun = true

	execution, err := f.orchestrator.Run(context.Background(), wf, event)
	require.NoError(t, err)
	assert.True(t, execution.TestRun)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, events.ExecutionStartedEvent, f.publisher.events[0].GetType())

	finished, ok := f.publisher.events[1].(events.ExecutionFinished)
	require.True(t, ok)
	assert.Equal(t, execution.ID, finished.ExecutionID)
	assert.Equal(t, models.ExecutionStatusSucceeded, finished.Status)
	assert.True(t, finished.TestRun)
}
