// Package dedup provides the durable deduplication store that drops repeated
// deliveries of the same logical event within a bounded window.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the deduplication contract used by the receiver. MarkSeen must be
// atomic: two concurrent deliveries of the same event id observe exactly one
// first=true outcome.
type Store interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) (first bool, err error)
	Forget(ctx context.Context, eventID string) error
}

// RedisStore keeps lightweight existence markers with a TTL sized to absorb
// CRM redelivery storms.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(eventID string) string {
	return "crmsync:dedup:" + eventID
}

// Seen reports whether the event id has been marked within the dedup window.
func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

// MarkSeen marks the event id, returning first=true for the single caller
// that created the marker. SET NX is the check-and-set: concurrent deliveries
// race on the same key and redis picks exactly one winner.
func (s *RedisStore) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(eventID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup mark: %w", err)
	}
	return ok, nil
}

// Forget removes the marker. The receiver rolls the marker back when the
// enqueue after it fails, so the CRM's redelivery is not misread as a
// duplicate.
func (s *RedisStore) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.key(eventID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}
