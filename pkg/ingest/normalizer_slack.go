package ingest

import (
	"context"
	"fmt"
)

// Slack event types delivered through the Events API.
const (
	SlackEventNewMessage = "new_message"
	SlackEventMention    = "app_mention"

	slackCallbackType = "event_callback"
)

// SlackNormalizer handles Events API "event_callback" envelopes. Message
// events become new_message; bot posts and message edits are ignored so a
// workflow that posts to Slack cannot trigger itself.
type SlackNormalizer struct{}

func (SlackNormalizer) Normalize(_ context.Context, raw RawEvent) (*Normalized, error) {
	if envelope := stringField(raw.Body, "type"); envelope != slackCallbackType {
		return nil, fmt.Errorf("%w: unsupported slack envelope %q", ErrIgnoredEvent, envelope)
	}

	event, ok := raw.Body["event"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: slack callback without event", ErrInvalidEvent)
	}

	eventType := stringField(event, "type")

	switch eventType {
	case "message":
		if stringField(event, "bot_id") != "" || stringField(event, "subtype") != "" {
			return nil, fmt.Errorf("%w: slack message subtype or bot message", ErrIgnoredEvent)
		}

		eventType = SlackEventNewMessage
	case "":
		return nil, fmt.Errorf("%w: slack event without type", ErrInvalidEvent)
	}

	teamID := stringField(raw.Body, "team_id")

	payload := make(map[string]any, len(event)+1)
	for key, value := range event {
		payload[key] = value
	}

	payload["team_id"] = teamID

	return &Normalized{
		EventType:         eventType,
		EventID:           stringField(raw.Body, "event_id"),
		ExternalAccountID: teamID,
		Payload:           payload,
	}, nil
}
