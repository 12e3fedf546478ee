// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/unifyos/unify/pkg/models"
)

type EventType string

// Topics.
const (
	TriggerTopic   = "unify.triggers"   // inbound provider events waiting to be ingested
	ExecutionTopic = "unify.executions" // execution lifecycle notifications
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerReceivedEvent   EventType = "trigger.received"
	ExecutionStartedEvent  EventType = "workflow.execution.started"
	ExecutionFinishedEvent EventType = "workflow.execution.finished"
)

// TopicFor returns the topic events of eventType are published to.
func TopicFor(eventType EventType) string {
	if eventType == TriggerReceivedEvent {
		return TriggerTopic
	}

	return ExecutionTopic
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// TriggerReceived carries a raw provider delivery from the API to the worker.
type TriggerReceived struct {
	BaseEvent

	App               string         `json:"app"`
	EventType         string         `json:"event_type,omitempty"`
	EventID           string         `json:"event_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	ExternalAccountID string         `json:"external_account_id,omitempty"`
	Body              map[string]any `json:"body"`
	ReceivedAt        time.Time      `json:"received_at"`
}

func (t TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id,omitempty"`
	TestRun     bool   `json:"test_run"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID   string                 `json:"execution_id"`
	Status        models.ExecutionStatus `json:"status"`
	Error         string                 `json:"error,omitempty"`
	TestRun       bool                   `json:"test_run"`
	ActionResults []models.ActionResult  `json:"action_results"`
	DurationMs    int64                  `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// NewExecutionFinished summarizes a terminal execution.
func NewExecutionFinished(execution *models.WorkflowExecution) ExecutionFinished {
	event := ExecutionFinished{
		BaseEvent:     NewBaseEvent(ExecutionFinishedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		Status:        execution.Status,
		Error:         execution.Error,
		TestRun:       execution.TestRun,
		ActionResults: execution.ActionResults,
	}

	if execution.FinishedAt != nil {
		event.DurationMs = execution.FinishedAt.Sub(execution.StartedAt).Milliseconds()
	}

	return event
}
