// Package workflow matches trigger events to workflows and runs their action chains.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/otelhelper"
	"github.com/unifyos/unify/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Matcher finds the workflows a trigger event should run.
type Matcher struct {
	workflows persistence.WorkflowRepository
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewMatcher(workflows persistence.WorkflowRepository, tracer trace.Tracer, logger *slog.Logger) *Matcher {
	return &Matcher{
		workflows: workflows,
		tracer:    tracer,
		logger:    logger.With("module", "workflow_matcher"),
	}
}

// Match returns the enabled workflows of event.UserID whose trigger app and
// event equal the event's, oldest first. Events without a user are rejected
// with ingest.ErrInvalidEvent.
func (m *Matcher) Match(ctx context.Context, event *models.TriggerEvent) ([]*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "workflow.match",
		attribute.String(otelhelper.TriggerAppKey, event.App),
		attribute.String(otelhelper.TriggerEventKey, event.EventType),
		attribute.String(otelhelper.OwnerIDKey, event.UserID),
	)
	defer span.End()

	if event.UserID == "" {
		err := fmt.Errorf("%w: event %s/%s has no user", ingest.ErrInvalidEvent, event.App, event.EventType)
		otelhelper.SetError(span, err)

		return nil, err
	}

	candidates, err := m.workflows.Match(ctx, event.UserID, event.App, event.EventType)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, workflow := range candidates {
		if !matches(workflow, event) {
			continue
		}

		matched = append(matched, workflow)
	}

	slices.SortStableFunc(matched, func(a, b *models.Workflow) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	m.logger.DebugContext(ctx, "Matched workflows",
		"app", event.App,
		"event_type", event.EventType,
		"user_id", event.UserID,
		"matches_found", len(matched))

	span.SetAttributes(attribute.Int("unify.match.count", len(matched)))

	return matched, nil
}

func matches(workflow *models.Workflow, event *models.TriggerEvent) bool {
	return workflow.Enabled &&
		!workflow.IsDeleted() &&
		workflow.OwnerID == event.UserID &&
		workflow.Trigger.App == event.App &&
		workflow.Trigger.Event == event.EventType
}
