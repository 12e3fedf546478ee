package services_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/actions/slack"
	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/otelhelper"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/persistence/memory"
	"github.com/unifyos/unify/pkg/registry"
	"github.com/unifyos/unify/pkg/services"
	"github.com/unifyos/unify/pkg/workflow"
)

type slackAPI struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (s *slackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var message map[string]any
	_ = json.NewDecoder(r.Body).Decode(&message)

	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
}

func (s *slackAPI) Messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]map[string]any(nil), s.messages...)
}

type testEnv struct {
	service *services.Workflow
	store   *memory.Persistence
	tokens  *credentials.MemoryStore
	slack   *slackAPI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewPersistence()
	tokens := credentials.NewMemoryStore()

	api := &slackAPI{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(slack.NewExecutor(server.URL, server.Client(), logger)))

	ingestor := ingest.NewIngestor(logger, tokens, ingest.NewMemoryDeduplicator(time.Minute, 100))
	matcher := workflow.NewMatcher(store.WorkflowRepository(), otelhelper.NoopTracer(), logger)
	orchestrator := workflow.NewOrchestrator(store, reg, tokens, logger)
	engine := workflow.NewEngine(ingestor, matcher, orchestrator, logger)

	return &testEnv{
		service: services.NewWorkflow(store, tokens, reg, engine, logger),
		store:   store,
		tokens:  tokens,
		slack:   api,
	}
}

func emailToSlack() *models.Workflow {
	return &models.Workflow{
		OwnerID: "user-1",
		Name:    "Email to Slack Notification",
		Trigger: models.Trigger{
			App:   "gmail",
			Event: "new_email",
			Config: map[string]any{
				"sample_payload": map[string]any{"subject": "Quarterly report", "from": map[string]any{"name": "Ana"}},
			},
		},
		Actions: []models.Action{{
			App:    "slack",
			Task:   slack.TaskSendMessage,
			Config: map[string]any{"channel": "#notifications", "text": "New email: {{ .trigger.subject }}"},
		}},
		Enabled: true,
	}
}

func TestWorkflow_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Create(ctx, emailToSlack())
	require.ErrorIs(t, err, services.ErrTriggerAppNotConnected)
	assert.True(t, services.IsPreconditionError(err))
	assert.Equal(t, "TRIGGER_APP_NOT_CONNECTED", services.ErrorCode(err))

	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	input := emailToSlack()
	input.ID = "client-chosen"
	input.ExecutionCount = 99

	created, err := env.service.Create(ctx, input)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, "client-chosen", created.ID)
	assert.Zero(t, created.ExecutionCount)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := env.service.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Email to Slack Notification", fetched.Name)
}

// touchCountingStore counts the Token reads that mark a credential as used.
type touchCountingStore struct {
	*credentials.MemoryStore

	mu      sync.Mutex
	touches int
}

func (s *touchCountingStore) Token(ctx context.Context, userID, app string) (*models.Token, error) {
	s.mu.Lock()
	s.touches++
	s.mu.Unlock()

	return s.MemoryStore.Token(ctx, userID, app)
}

func TestWorkflow_ValidationDoesNotTouchCredentials(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	tokens := &touchCountingStore{MemoryStore: credentials.NewMemoryStore()}
	tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(slack.NewExecutor("http://127.0.0.1:0", http.DefaultClient, logger)))

	service := services.NewWorkflow(memory.NewPersistence(), tokens, reg, nil, logger)

	created, err := service.Create(context.Background(), emailToSlack())
	require.NoError(t, err)

	name := "Renamed"
	_, err = service.Update(context.Background(), created.ID, services.UpdateWorkflowRequest{Name: &name})
	require.NoError(t, err)

	assert.Zero(t, tokens.touches)
}

func TestWorkflow_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	tests := []struct {
		name     string
		mutate   func(*models.Workflow)
		expected error
	}{
		{"nil actions", func(w *models.Workflow) { w.Actions = nil }, services.ErrWorkflowHasNoActions},
		{"empty actions", func(w *models.Workflow) { w.Actions = []models.Action{} }, services.ErrWorkflowHasNoActions},
		{"missing name", func(w *models.Workflow) { w.Name = "  " }, services.ErrInvalidRequest},
		{"missing owner", func(w *models.Workflow) { w.OwnerID = "" }, services.ErrInvalidRequest},
		{"missing trigger event", func(w *models.Workflow) { w.Trigger.Event = "" }, services.ErrInvalidRequest},
		{"unknown action app", func(w *models.Workflow) { w.Actions[0].App = "fax" }, services.ErrInvalidAction},
		{"unknown task", func(w *models.Workflow) { w.Actions[0].Task = "archive" }, services.ErrInvalidAction},
		{"invalid action config", func(w *models.Workflow) { delete(w.Actions[0].Config, "channel") }, services.ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := emailToSlack()
			tt.mutate(input)

			_, err := env.service.Create(context.Background(), input)
			require.ErrorIs(t, err, tt.expected)
			assert.True(t, services.IsValidationError(err))
		})
	}

	_, err := env.service.Create(context.Background(), nil)
	assert.ErrorIs(t, err, services.ErrWorkflowNil)
}

func TestWorkflow_CreateScheduled(t *testing.T) {
	env := newTestEnv(t)

	input := emailToSlack()
	input.Trigger = models.Trigger{App: "schedule", Event: "cron", Config: map[string]any{"cron": "@daily"}}

	_, err := env.service.Create(context.Background(), input)
	require.NoError(t, err)

	input = emailToSlack()
	input.Trigger = models.Trigger{App: "schedule", Event: "cron", Config: map[string]any{"cron": "sometimes"}}

	_, err = env.service.Create(context.Background(), input)
	assert.ErrorIs(t, err, services.ErrInvalidTrigger)
}

func TestWorkflow_UpdateAndSetEnabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	created, err := env.service.Create(ctx, emailToSlack())
	require.NoError(t, err)

	name := "Renamed"

	updated, err := env.service.Update(ctx, created.ID, services.UpdateWorkflowRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Len(t, updated.Actions, 1)

	_, err = env.service.Update(ctx, created.ID, services.UpdateWorkflowRequest{Actions: []models.Action{}})
	require.ErrorIs(t, err, services.ErrWorkflowHasNoActions)

	_, err = env.service.Update(ctx, "missing", services.UpdateWorkflowRequest{Name: &name})
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)

	paused, err := env.service.SetEnabled(ctx, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "paused", paused.Status())

	active, err := env.service.SetEnabled(ctx, created.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "active", active.Status())
}

func TestWorkflow_SetEnabledRequiresActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy := &models.Workflow{OwnerID: "user-1", Name: "Legacy", Trigger: models.Trigger{App: "gmail", Event: "new_email"}}
	require.NoError(t, env.store.WorkflowRepository().Save(ctx, legacy))

	_, err := env.service.SetEnabled(ctx, legacy.ID, true)
	require.ErrorIs(t, err, services.ErrWorkflowHasNoActions)

	_, err = env.service.SetEnabled(ctx, legacy.ID, false)
	require.NoError(t, err)
}

func TestWorkflow_ListMeta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	first, err := env.service.Create(ctx, emailToSlack())
	require.NoError(t, err)

	second, err := env.service.Create(ctx, emailToSlack())
	require.NoError(t, err)

	_, err = env.service.SetEnabled(ctx, second.ID, false)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, env.store.WorkflowRepository().IncrementExecutionCount(ctx, first.ID))
	}

	response, err := env.service.List(ctx, services.ListWorkflowsRequest{OwnerID: "user-1"})
	require.NoError(t, err)

	assert.Len(t, response.Workflows, 2)
	assert.Equal(t, services.ListMeta{Total: 2, Active: 1, TotalExecutions: 3}, response.Meta)

	response, err = env.service.List(ctx, services.ListWorkflowsRequest{OwnerID: "user-2"})
	require.NoError(t, err)
	assert.Empty(t, response.Workflows)

	_, err = env.service.List(ctx, services.ListWorkflowsRequest{OwnerID: "   "})
	assert.ErrorIs(t, err, services.ErrEmptyOwnerID)
}

func TestWorkflow_DeleteInvalidatesPendingExecutions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	created, err := env.service.Create(ctx, emailToSlack())
	require.NoError(t, err)

	pending := models.NewExecutionPlan("exec-pending", created.ID, created.Actions, &models.TriggerEvent{}, time.Now().UTC())
	require.NoError(t, env.store.ExecutionRepository().Create(ctx, pending))

	require.NoError(t, env.service.Delete(ctx, created.ID))

	_, err = env.service.FetchByID(ctx, created.ID)
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)

	execution, err := env.service.GetExecution(ctx, "exec-pending")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ReasonWorkflowDeleted, execution.Error)
	assert.NotNil(t, execution.FinishedAt)

	history, err := env.service.ListExecutions(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	err = env.service.Delete(ctx, created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflow_TestRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.tokens.Connect(models.Token{UserID: "user-1", App: "gmail", AccessToken: "ya29"})

	created, err := env.service.Create(ctx, emailToSlack())
	require.NoError(t, err)

	t.Run("action app not connected", func(t *testing.T) {
		execution, err := env.service.Test(ctx, created.ID)
		require.NoError(t, err)

		assert.True(t, execution.TestRun)
		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		require.Len(t, execution.ActionResults, 1)
		assert.Equal(t, models.ActionStatusFailed, execution.ActionResults[0].Status)
		assert.Equal(t, models.ReasonNotConnected, execution.ActionResults[0].Error)
		assert.Empty(t, env.slack.Messages())
	})

	t.Run("action app connected", func(t *testing.T) {
		env.tokens.Connect(models.Token{UserID: "user-1", App: "slack", AccessToken: "xoxb", ExternalAccountID: "T1"})

		execution, err := env.service.Test(ctx, created.ID)
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
		assert.Equal(t, models.ActionStatusSucceeded, execution.ActionResults[0].Status)
		assert.Equal(t, "Ana", execution.TriggerData["from.name"])

		messages := env.slack.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "#notifications", messages[0]["channel"])
		assert.Equal(t, "New email: Quarterly report", messages[0]["text"])
	})

	t.Run("disabled workflows can be tested", func(t *testing.T) {
		_, err := env.service.SetEnabled(ctx, created.ID, false)
		require.NoError(t, err)

		execution, err := env.service.Test(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
	})

	fetched, err := env.service.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), fetched.ExecutionCount)

	_, err = env.service.Test(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrWorkflowNotFound)
}
