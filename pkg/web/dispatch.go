package web

import (
	"context"

	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
)

// Dispatcher hands an inbound provider event over for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw ingest.RawEvent) error
}

// EventHandler runs an inbound event in process.
type EventHandler interface {
	Handle(ctx context.Context, raw ingest.RawEvent) ([]*models.WorkflowExecution, error)
}

// BusDispatcher publishes events for a worker to consume.
type BusDispatcher struct {
	publisher eventbus.EventPublisher
}

func NewBusDispatcher(publisher eventbus.EventPublisher) *BusDispatcher {
	return &BusDispatcher{publisher: publisher}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, raw ingest.RawEvent) error {
	return d.publisher.Publish(ctx, raw.App, events.TriggerReceived{
		BaseEvent:         events.NewBaseEvent(events.TriggerReceivedEvent, ""),
		App:               raw.App,
		EventType:         raw.EventType,
		EventID:           raw.EventID,
		UserID:            raw.UserID,
		ExternalAccountID: raw.ExternalAccountID,
		Body:              raw.Body,
		ReceivedAt:        raw.ReceivedAt,
	})
}

// DirectDispatcher runs events synchronously in the API process.
type DirectDispatcher struct {
	handler EventHandler
}

func NewDirectDispatcher(handler EventHandler) *DirectDispatcher {
	return &DirectDispatcher{handler: handler}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, raw ingest.RawEvent) error {
	_, err := d.handler.Handle(context.WithoutCancel(ctx), raw)

	return err
}
