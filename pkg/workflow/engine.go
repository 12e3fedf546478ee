package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
)

// Engine wires ingestion, matching and orchestration for one inbound event.
type Engine struct {
	ingestor     *ingest.Ingestor
	matcher      *Matcher
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewEngine(ingestor *ingest.Ingestor, matcher *Matcher, orchestrator *Orchestrator, logger *slog.Logger) *Engine {
	return &Engine{
		ingestor:     ingestor,
		matcher:      matcher,
		orchestrator: orchestrator,
		logger:       logger.With("module", "engine"),
	}
}

// Handle ingests raw and runs every matched workflow concurrently.
//
// Duplicate and ignored events are logged and yield no executions and no
// error. Invalid events return ingest.ErrInvalidEvent. Store failures are
// joined and returned next to the executions that did get recorded; when none
// was recorded the dedup key is released so a redelivery is processed.
func (e *Engine) Handle(ctx context.Context, raw ingest.RawEvent) ([]*models.WorkflowExecution, error) {
	event, err := e.ingestor.Ingest(ctx, raw)
	if err != nil {
		if ingest.IsDropped(err) {
			e.logger.InfoContext(ctx, "Dropping event", "app", raw.App, "event_id", raw.EventID, "reason", err)

			return nil, nil
		}

		e.logger.WarnContext(ctx, "Rejected event", "app", raw.App, "event_id", raw.EventID, "error", err)

		return nil, err
	}

	workflows, err := e.matcher.Match(ctx, event)
	if err != nil {
		e.ingestor.Forget(ctx, event)

		return nil, err
	}

	if len(workflows) == 0 {
		e.logger.DebugContext(ctx, "No workflow matched", "app", event.App, "event_type", event.EventType, "user_id", event.UserID)

		return nil, nil
	}

	executions, err := e.runAll(ctx, workflows, event)
	if err != nil && len(executions) == 0 {
		e.ingestor.Forget(ctx, event)
	}

	return executions, err
}

func (e *Engine) runAll(ctx context.Context, workflows []*models.Workflow, event *models.TriggerEvent) ([]*models.WorkflowExecution, error) {
	var (
		wg      sync.WaitGroup
		results = make([]*models.WorkflowExecution, len(workflows))
		errs    = make([]error, len(workflows))
	)

	for i, workflow := range workflows {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], errs[i] = e.orchestrator.Run(ctx, workflow, event)
			if errs[i] != nil {
				e.logger.ErrorContext(ctx, "Workflow run failed", "workflow_id", workflow.ID, "error", errs[i])
			}
		}()
	}

	wg.Wait()

	executions := make([]*models.WorkflowExecution, 0, len(results))

	for _, execution := range results {
		if execution != nil {
			executions = append(executions, execution)
		}
	}

	return executions, errors.Join(errs...)
}

// RunWorkflow runs one workflow for a synthesized event, as manual tests and
// schedule ticks do. Events carrying an id are deduplicated like webhooks.
func (e *Engine) RunWorkflow(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (*models.WorkflowExecution, error) {
	err := e.ingestor.Claim(ctx, event)
	if err != nil {
		return nil, err
	}

	execution, err := e.orchestrator.Run(ctx, workflow, event)
	if err != nil && execution == nil {
		e.ingestor.Forget(ctx, event)
	}

	return execution, err
}
