package models

import "time"

// TriggerEvent is the canonical, provider-independent form of an inbound event.
// It is not persisted beyond the execution's trigger data snapshot.
type TriggerEvent struct {
	App        string         `json:"app"`
	EventType  string         `json:"event_type"`
	UserID     string         `json:"user_id"`
	EventID    string         `json:"event_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
	TestRun    bool           `json:"test_run,omitempty"`
}

// DedupKey is the idempotency key of the event, empty when the provider sent no event id.
func (e *TriggerEvent) DedupKey() string {
	if e.EventID == "" {
		return ""
	}

	return e.App + ":" + e.EventID
}
