package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "unify:dedup:"

// RedisDeduplicator shares the dedup window between processes with SET NX PX.
type RedisDeduplicator struct {
	client redis.UniversalClient
	window time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, window time.Duration) *RedisDeduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}

	return &RedisDeduplicator{client: client, window: window}
}

// NewRedisDeduplicatorFromURL connects to a redis:// URL and checks the connection.
func NewRedisDeduplicatorFromURL(ctx context.Context, redisURL string, window time.Duration) (*RedisDeduplicator, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDeduplicator(client, window), nil
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	created, err := d.client.SetNX(ctx, redisKeyPrefix+key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}

	return !created, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, key string) error {
	err := d.client.Del(ctx, redisKeyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("dedup forget: %w", err)
	}

	return nil
}

// Close releases the underlying client.
func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
