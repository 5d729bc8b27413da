package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper suppresses duplicate webhook deliveries by provider event
// ID. Seen atomically records the ID and reports whether it was already
// present; Forget releases an ID whose processing failed so the provider's
// retry is not dropped.
//
// Deduplication is an optimization, not a correctness requirement:
// reconciliation is a full-state overwrite, so a duplicate that slips
// through converges to the same record.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

const dedupKeyPrefix = "billing:event:"

// RedisDeduper records event IDs in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper backed by the given Redis client.
// A non-positive TTL defaults to 24 hours, which comfortably covers the
// provider's webhook retry window.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupKeyPrefix+eventID).Err()
}

// NoopDeduper disables duplicate suppression. Safe because reconciliation
// is idempotent; used when Redis is not configured and in tests.
type NoopDeduper struct{}

func (NoopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopDeduper) Forget(context.Context, string) error       { return nil }
