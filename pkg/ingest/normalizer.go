package ingest

import (
	"context"
	"fmt"
)

// Normalized is the provider-independent part extracted from a raw event.
type Normalized struct {
	EventType         string
	EventID           string
	ExternalAccountID string
	Payload           map[string]any
}

// Normalizer turns one provider's raw body into a Normalized event.
type Normalizer interface {
	Normalize(ctx context.Context, raw RawEvent) (*Normalized, error)
}

// GenericNormalizer accepts bodies shaped as
// {"event_type": ..., "event_id": ..., "account_id": ..., "payload": {...}}.
// Fields set on the RawEvent take precedence; without a "payload" object the
// whole body becomes the payload.
type GenericNormalizer struct{}

func (GenericNormalizer) Normalize(_ context.Context, raw RawEvent) (*Normalized, error) {
	normalized := &Normalized{
		EventType:         firstNonEmpty(raw.EventType, stringField(raw.Body, "event_type")),
		EventID:           firstNonEmpty(raw.EventID, stringField(raw.Body, "event_id")),
		ExternalAccountID: firstNonEmpty(raw.ExternalAccountID, stringField(raw.Body, "account_id")),
		Payload:           raw.Body,
	}

	if payload, ok := raw.Body["payload"].(map[string]any); ok {
		normalized.Payload = payload
	}

	return normalized, nil
}

func stringField(body map[string]any, key string) string {
	switch value := body[key].(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
