package workflow_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/persistence/memory"
	"github.com/unifyos/unify/pkg/protocol"
	"github.com/unifyos/unify/pkg/registry"
	"github.com/unifyos/unify/pkg/workflow"
)

type executeFunc func(ctx context.Context, req protocol.Request) (map[string]any, error)

type fakeExecutor struct {
	app           string
	requiresToken bool
	execute       executeFunc

	mu    sync.Mutex
	calls []protocol.Request
}

func (f *fakeExecutor) App() string         { return f.app }
func (f *fakeExecutor) Name() string        { return f.app }
func (f *fakeExecutor) RequiresToken() bool { return f.requiresToken }

func (f *fakeExecutor) Tasks() []protocol.Task {
	return []protocol.Task{{Name: "send"}}
}

func (f *fakeExecutor) Execute(ctx context.Context, req protocol.Request) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.execute == nil {
		return map[string]any{}, nil
	}

	return f.execute(ctx, req)
}

func (f *fakeExecutor) Calls() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]protocol.Request(nil), f.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

// flakyStore fails execution creation while failing is set, and execution
// counting while failingCount is set.
type flakyStore struct {
	*memory.Persistence

	failing      atomic.Bool
	failingCount atomic.Bool
}

func (s *flakyStore) WorkflowRepository() persistence.WorkflowRepository {
	return flakyWorkflows{WorkflowRepository: s.Persistence.WorkflowRepository(), store: s}
}

type flakyWorkflows struct {
	persistence.WorkflowRepository

	store *flakyStore
}

func (r flakyWorkflows) IncrementExecutionCount(ctx context.Context, id string) error {
	if r.store.failingCount.Load() {
		return persistence.Unavailable("increment execution count", context.DeadlineExceeded)
	}

	return r.WorkflowRepository.IncrementExecutionCount(ctx, id)
}

func (s *flakyStore) ExecutionRepository() persistence.ExecutionRepository {
	return flakyExecutions{ExecutionRepository: s.Persistence.ExecutionRepository(), store: s}
}

type flakyExecutions struct {
	persistence.ExecutionRepository

	store *flakyStore
}

func (r flakyExecutions) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if r.store.failing.Load() {
		return persistence.Unavailable("create execution", context.DeadlineExceeded)
	}

	return r.ExecutionRepository.Create(ctx, execution)
}

// invalidatingStore invalidates every execution right before it starts, as a
// concurrent delete would.
type invalidatingStore struct {
	*memory.Persistence
}

func (s invalidatingStore) ExecutionRepository() persistence.ExecutionRepository {
	return invalidatingExecutions{s.Persistence.ExecutionRepository()}
}

type invalidatingExecutions struct {
	persistence.ExecutionRepository
}

func (r invalidatingExecutions) MarkRunning(ctx context.Context, id string) error {
	execution, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.InvalidatePending(ctx, execution.WorkflowID, models.ReasonWorkflowDeleted, time.Now().UTC())
	if err != nil {
		return err
	}

	return r.ExecutionRepository.MarkRunning(ctx, id)
}

type fixture struct {
	store        persistence.Persistence
	tokens       *credentials.MemoryStore
	registry     *registry.Registry
	orchestrator *workflow.Orchestrator
	publisher    *recordingPublisher
}

func newFixture(t *testing.T, store persistence.Persistence, executors []*fakeExecutor, opts ...workflow.Option) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	reg := registry.NewRegistry(logger)

	for _, executor := range executors {
		require.NoError(t, reg.Register(executor))
	}

	publisher := &recordingPublisher{}
	tokens := credentials.NewMemoryStore()

	opts = append([]workflow.Option{workflow.WithPublisher(publisher)}, opts...)

	return &fixture{
		store:        store,
		tokens:       tokens,
		registry:     reg,
		orchestrator: workflow.NewOrchestrator(store, reg, tokens, logger, opts...),
		publisher:    publisher,
	}
}

func (f *fixture) saveWorkflow(t *testing.T, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	if workflow.OwnerID == "" {
		workflow.OwnerID = "user-1"
	}

	if workflow.Name == "" {
		workflow.Name = "Forward emails"
	}

	if workflow.Trigger.App == "" {
		workflow.Trigger = models.Trigger{App: "gmail", Event: "new_email"}
	}

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

func (f *fixture) reload(t *testing.T, id string) *models.Workflow {
	t.Helper()

	workflow, err := f.store.WorkflowRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return workflow
}

func actionsFor(apps ...string) []models.Action {
	actions := make([]models.Action, len(apps))
	for i, app := range apps {
		actions[i] = models.Action{App: app, Task: "send", Config: map[string]any{"index": i}}
	}

	return actions
}

func newEvent(eventID string) *models.TriggerEvent {
	return &models.TriggerEvent{
		App:        "gmail",
		EventType:  "new_email",
		UserID:     "user-1",
		EventID:    eventID,
		Payload:    map[string]any{"subject": "Invoice"},
		ReceivedAt: time.Now().UTC(),
	}
}

func statuses(execution *models.WorkflowExecution) []models.ActionStatus {
	result := make([]models.ActionStatus, len(execution.ActionResults))
	for i, r := range execution.ActionResults {
		result[i] = r.Status
	}

	return result
}
