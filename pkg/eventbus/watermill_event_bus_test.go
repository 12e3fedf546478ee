package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unifyos/unify/pkg/channels/gochannel"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/events"
	"github.com/unifyos/unify/pkg/models"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.New(slog.DiscardHandler))

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_RoutesTriggerEvents(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	received := make(chan *events.TriggerReceived, 1)

	require.NoError(t, bus.Handle(events.TriggerReceivedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.TriggerReceived)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "slack", events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, ""),
		App:       "slack",
		EventID:   "Ev1",
		Body:      map[string]any{"type": "event_callback"},
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "slack", event.App)
		assert.Equal(t, "Ev1", event.EventID)
		assert.Equal(t, "event_callback", event.Body["type"])
	case <-time.After(5 * time.Second):
		t.Fatal("trigger event not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var attempts atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}

		assert.Equal(t, models.ExecutionStatusSucceeded, event.(*events.ExecutionFinished).Status)
		close(done)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	started := time.Now().UTC()
	finished := started.Add(1500 * time.Millisecond)

	event := events.NewExecutionFinished(&models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusSucceeded,
		StartedAt:  started,
		FinishedAt: &finished,
	})
	assert.Equal(t, int64(1500), event.DurationMs)

	require.NoError(t, bus.Publish(ctx, "wf-1", event))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("execution event not redelivered")
	}
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, events.TriggerTopic, events.TopicFor(events.TriggerReceivedEvent))
	assert.Equal(t, events.ExecutionTopic, events.TopicFor(events.ExecutionFinishedEvent))
	assert.Equal(t, events.ExecutionTopic, events.TopicFor(events.ExecutionStartedEvent))
}
