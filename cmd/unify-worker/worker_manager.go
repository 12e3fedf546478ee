package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/scheduler"
	"github.com/unifyos/unify/pkg/workflow"
)

var errNoEventBus = errors.New("the worker needs an event bus (kafka or gochannel)")

type WorkerManager struct {
	id        string
	logger    *slog.Logger
	engine    *workflow.Engine
	eventBus  eventbus.EventBus
	scheduler *scheduler.Scheduler
}

func NewWorkerManager(id string, rt *cmd.Runtime, eventBus eventbus.EventBus, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "unify-worker", "worker_id", id),
		engine:   rt.Engine,
		eventBus: eventBus,
		scheduler: scheduler.New(
			rt.Stores.Persistence.WorkflowRepository(),
			rt.Engine,
			logger,
			rt.Config.Engine.ScheduleRefresh,
		),
	}
}

// Start consumes trigger events and runs the scheduler until ctx is done or
// the process is signalled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = w.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	defer w.scheduler.Stop()

	w.logger.InfoContext(ctx, "Worker started successfully", "schedules", w.scheduler.Scheduled())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// handleTriggerReceived runs every workflow matching the event. Returning an
// error nacks the message; invalid events are acked since a redelivery would
// fail the same way.
func (w *WorkerManager) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With("app", received.App, "event_id", received.EventID)

	executions, err := w.engine.Handle(ctx, ingest.RawEvent{
		App:               received.App,
		EventType:         received.EventType,
		EventID:           received.EventID,
		UserID:            received.UserID,
		ExternalAccountID: received.ExternalAccountID,
		Body:              received.Body,
		ReceivedAt:        received.ReceivedAt,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidEvent) {
			logger.WarnContext(ctx, "Dropping invalid event", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to handle event, requesting redelivery", "error", err)

		return err
	}

	logger.DebugContext(ctx, "Event handled", "executions", len(executions))

	return nil
}
