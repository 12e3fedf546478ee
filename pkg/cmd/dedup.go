package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/unifyos/unify/pkg/ingest"
)

// NewDeduplicator uses Redis when redisURL is set so every api and worker
// replica shares one window. Otherwise keys live in process memory.
func NewDeduplicator(ctx context.Context, redisURL string, window time.Duration, capacity int) (ingest.Deduplicator, func() error, error) {
	if redisURL == "" {
		return ingest.NewMemoryDeduplicator(window, capacity), func() error { return nil }, nil
	}

	dedup, err := ingest.NewRedisDeduplicatorFromURL(ctx, redisURL, window)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return dedup, dedup.Close, nil
}
