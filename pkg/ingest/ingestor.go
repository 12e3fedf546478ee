// Package ingest normalizes inbound provider events into trigger events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/models"
)

// RawEvent is an inbound provider delivery before normalization. Only App
// and Body are required; the other fields override what the normalizer
// extracts from the body.
type RawEvent struct {
	App               string         `json:"app"`
	EventType         string         `json:"event_type,omitempty"`
	EventID           string         `json:"event_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	ExternalAccountID string         `json:"external_account_id,omitempty"`
	Body              map[string]any `json:"body"`
	ReceivedAt        time.Time      `json:"received_at"`
}

// Ingestor validates, normalizes and deduplicates raw events.
type Ingestor struct {
	logger   *slog.Logger
	resolver credentials.IdentityResolver
	dedup    Deduplicator

	mu          sync.RWMutex
	normalizers map[string]Normalizer
	fallback    Normalizer
}

// NewIngestor creates an ingestor with the Slack normalizer registered and
// the generic normalizer as fallback. resolver may be nil when every event
// carries its user id.
func NewIngestor(logger *slog.Logger, resolver credentials.IdentityResolver, dedup Deduplicator) *Ingestor {
	if dedup == nil {
		dedup = NewMemoryDeduplicator(DefaultDedupWindow, DefaultDedupCapacity)
	}

	return &Ingestor{
		logger:   logger.With("module", "ingestor"),
		resolver: resolver,
		dedup:    dedup,
		normalizers: map[string]Normalizer{
			"slack": SlackNormalizer{},
		},
		fallback: GenericNormalizer{},
	}
}

// RegisterNormalizer sets the normalizer used for app, replacing any previous one.
func (i *Ingestor) RegisterNormalizer(app string, normalizer Normalizer) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.normalizers[app] = normalizer
}

func (i *Ingestor) normalizer(app string) Normalizer {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if normalizer, ok := i.normalizers[app]; ok {
		return normalizer
	}

	return i.fallback
}

// Ingest turns raw into a TriggerEvent. It returns ErrInvalidEvent for
// malformed events, ErrIgnoredEvent for events that never trigger and
// ErrDuplicateEvent for redeliveries inside the dedup window.
func (i *Ingestor) Ingest(ctx context.Context, raw RawEvent) (*models.TriggerEvent, error) {
	if raw.App == "" {
		return nil, fmt.Errorf("%w: missing app", ErrInvalidEvent)
	}

	if raw.Body == nil {
		raw.Body = map[string]any{}
	}

	normalized, err := i.normalizer(raw.App).Normalize(ctx, raw)
	if err != nil {
		return nil, err
	}

	if normalized.EventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	}

	userID, err := i.resolveUser(ctx, raw, normalized)
	if err != nil {
		return nil, err
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	event := &models.TriggerEvent{
		App:        raw.App,
		EventType:  normalized.EventType,
		UserID:     userID,
		EventID:    normalized.EventID,
		Payload:    Flatten(normalized.Payload),
		ReceivedAt: receivedAt,
	}

	err = i.Claim(ctx, event)
	if err != nil {
		return nil, err
	}

	return event, nil
}

// Claim records the dedup key of event. It returns ErrDuplicateEvent when the
// key was already claimed inside the window. Events without an id always pass.
func (i *Ingestor) Claim(ctx context.Context, event *models.TriggerEvent) error {
	key := event.DedupKey()
	if key == "" {
		return nil
	}

	seen, err := i.dedup.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", key, err)
	}

	if seen {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, key)
	}

	return nil
}

// Forget releases the dedup key of event so a provider resubmission is accepted.
func (i *Ingestor) Forget(ctx context.Context, event *models.TriggerEvent) {
	key := event.DedupKey()
	if key == "" {
		return
	}

	err := i.dedup.Forget(ctx, key)
	if err != nil {
		i.logger.WarnContext(ctx, "Failed to release dedup key", "event_id", event.EventID, "error", err)
	}
}

func (i *Ingestor) resolveUser(ctx context.Context, raw RawEvent, normalized *Normalized) (string, error) {
	if raw.UserID != "" {
		return raw.UserID, nil
	}

	if normalized.ExternalAccountID == "" || i.resolver == nil {
		return "", fmt.Errorf("%w: missing user", ErrInvalidEvent)
	}

	userID, err := i.resolver.ResolveUser(ctx, raw.App, normalized.ExternalAccountID)
	if err != nil {
		if errors.Is(err, credentials.ErrUnknownAccount) {
			return "", fmt.Errorf("%w: no user connected %s account %s", ErrInvalidEvent, raw.App, normalized.ExternalAccountID)
		}

		return "", err
	}

	return userID, nil
}
