package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/otelhelper"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultActionTimeout bounds a single executor call.
const DefaultActionTimeout = 30 * time.Second

// ExecutorRegistry resolves the executor of an action app.
type ExecutorRegistry interface {
	Executor(app string) (protocol.ActionExecutor, bool)
}

type Option func(*Orchestrator)

func WithActionTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.actionTimeout = timeout
		}
	}
}

// WithPublisher publishes execution lifecycle events on the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator runs the action chain of one workflow for one trigger event
// and records the outcome as a WorkflowExecution.
type Orchestrator struct {
	workflows   persistence.WorkflowRepository
	executions  persistence.ExecutionRepository
	executors   ExecutorRegistry
	credentials credentials.Store
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger

	actionTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(
	store persistence.Persistence,
	executors ExecutorRegistry,
	creds credentials.Store,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		workflows:     store.WorkflowRepository(),
		executions:    store.ExecutionRepository(),
		executors:     executors,
		credentials:   creds,
		tracer:        otelhelper.NoopTracer(),
		logger:        logger.With("module", "orchestrator"),
		actionTimeout: DefaultActionTimeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes workflow's actions in order against event.
//
// Business failures (missing credentials, provider errors, timeouts) are
// recorded in the returned execution. An error is returned only when the
// execution store fails. The execution is nil only if it could not be
// created; any later store failure returns it next to the error.
func (o *Orchestrator) Run(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (*models.WorkflowExecution, error) {
	// An execution runs to completion once started.
	ctx = context.WithoutCancel(ctx)

	actions := workflow.SnapshotActions()
	execution := models.NewExecutionPlan(uuid.Must(uuid.NewV7()).String(), workflow.ID, actions, event, o.now())
	execution.TestRun = event.TestRun

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.EventIDKey, event.EventID),
	)
	defer span.End()

	logger := o.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID, "event_id", event.EventID)

	err := o.executions.Create(ctx, execution)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to create execution", "error", err)

		return nil, err
	}

	if len(actions) == 0 {
		logger.WarnContext(ctx, "Workflow has no actions")
		execution.Error = models.ReasonNoActions

		return o.finish(ctx, span, logger, execution)
	}

	err = o.executions.MarkRunning(ctx, execution.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			logger.InfoContext(ctx, "Execution invalidated before start")

			// Never started, so it is not counted as an attempt.
			invalidated, getErr := o.executions.GetByID(ctx, execution.ID)
			if getErr != nil {
				return execution, getErr
			}

			return invalidated, nil
		}

		otelhelper.SetError(span, err)

		return execution, err
	}

	execution.Status = models.ExecutionStatusRunning
	o.publish(ctx, logger, workflow.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		EventID:     execution.EventID,
		TestRun:     execution.TestRun,
	})

	for index, action := range actions {
		result := &execution.ActionResults[index]

		startedAt := o.now()
		result.StartedAt = &startedAt

		reason := o.runAction(ctx, workflow, execution, index, action, event.Payload)

		finishedAt := o.now()
		result.FinishedAt = &finishedAt

		if reason == "" {
			result.Status = models.ActionStatusSucceeded
		} else {
			result.Status = models.ActionStatusFailed
			result.Error = reason
		}

		err = o.executions.Update(ctx, execution)
		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "Failed to record action result", "action_index", index, "error", err)

			return execution, err
		}

		if reason != "" {
			logger.InfoContext(ctx, "Action failed, aborting chain",
				"action_index", index, "app", action.App, "task", action.Task, "reason", reason)

			break
		}
	}

	return o.finish(ctx, span, logger, execution)
}

// finish stamps the terminal status, persists it and counts the attempt.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, logger *slog.Logger, execution *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	execution.Finish(o.now())

	err := o.executions.Update(ctx, execution)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to record execution result", "error", err)

		return execution, err
	}

	err = o.workflows.IncrementExecutionCount(ctx, execution.WorkflowID)
	if err != nil {
		if !persistence.IsWorkflowNotFound(err) {
			otelhelper.SetError(span, err)

			return execution, err
		}

		logger.WarnContext(ctx, "Workflow vanished before its execution was counted")
	}

	span.SetAttributes(attribute.String("unify.execution.status", string(execution.Status)))

	logger.InfoContext(ctx, "Execution finished",
		"status", execution.Status,
		"test_run", execution.TestRun,
		"duration", execution.FinishedAt.Sub(execution.StartedAt))

	o.publish(ctx, logger, execution.WorkflowID, events.NewExecutionFinished(execution))

	return execution, nil
}

// runAction executes one action and returns the failure reason, empty on success.
func (o *Orchestrator) runAction(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	index int,
	action models.Action,
	payload map[string]any,
) (reason string) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.action",
		attribute.String(otelhelper.ActionAppKey, action.App),
		attribute.String(otelhelper.ActionTaskKey, action.Task),
		attribute.Int(otelhelper.ActionIndexKey, index),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			reason = fmt.Sprintf("executor panic: %v", r)
		}

		if reason != "" {
			otelhelper.SetError(span, errors.New(reason))
		}
	}()

	executor, found := o.executors.Executor(action.App)

	var token *models.Token

	if !found || executor.RequiresToken() {
		var err error

		token, err = o.credentials.Token(ctx, workflow.OwnerID, action.App)
		if err != nil {
			if credentials.IsNotConnected(err) {
				return models.ReasonNotConnected
			}

			o.logger.ErrorContext(ctx, "Failed to resolve credential", "app", action.App, "error", err)

			return err.Error()
		}
	}

	if !found {
		return models.ReasonExecutorNotFound
	}

	actionCtx, cancel := context.WithTimeout(ctx, o.actionTimeout)
	defer cancel()

	err := o.execute(actionCtx, executor, protocol.Request{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Action:      action,
		Token:       token,
		Payload:     payload,
	})
	if err == nil {
		return ""
	}

	return failureReason(actionCtx, err)
}

// execute waits for executor at most until ctx is done. An executor that
// ignores ctx keeps running in the background and its late result is dropped.
func (o *Orchestrator) execute(ctx context.Context, executor protocol.ActionExecutor, req protocol.Request) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("executor panic: %v", r)
			}
		}()

		_, err := executor.Execute(ctx, req)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		o.logger.WarnContext(ctx, "Executor overran its deadline", "app", req.Action.App, "task", req.Action.Task)

		return ctx.Err()
	}
}

func failureReason(actionCtx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
		return models.ReasonTimeout
	}

	if actionErr, ok := protocol.AsActionError(err); ok {
		if actionErr.Timeout {
			return models.ReasonTimeout
		}

		return actionErr.Message
	}

	return err.Error()
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, key, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}
