package ingest

import "errors"

var (
	// ErrInvalidEvent marks events that lack an app, an event type or a resolvable user.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicateEvent marks an event already seen inside the dedup window.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrIgnoredEvent marks provider events that are well formed but never
	// trigger workflows, such as messages posted by bots.
	ErrIgnoredEvent = errors.New("ignored event")
)

// IsDropped reports whether err means the event should be dropped silently.
func IsDropped(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrIgnoredEvent)
}
