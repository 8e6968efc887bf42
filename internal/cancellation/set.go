// Package cancellation tracks caller-initiated cancellations of in-flight
// requests in Redis, the same way the teacher keeps its proxy pause/cancel
// state in Redis rather than in Postgres: cancellation is a short-lived,
// best-effort signal, not durable history.
package cancellation

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "gw:cancelled:"

// Set records and checks cancellation markers for request IDs.
type Set struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSet returns a Set whose entries expire after ttl. ttl should be at
// least twice the gateway's default request timeout, so a cancellation
// recorded just before a listener sees the late response still wins.
func NewSet(client *redis.Client, ttl time.Duration) *Set {
	return &Set{client: client, ttl: ttl}
}

func key(requestID string) string {
	return keyPrefix + requestID
}

// Cancel marks requestID as cancelled by the caller.
func (s *Set) Cancel(ctx context.Context, requestID string) error {
	if err := s.client.Set(ctx, key(requestID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("mark request %s cancelled: %w", requestID, err)
	}
	return nil
}

// IsCancelled reports whether requestID has an active cancellation marker.
// Errors talking to Redis are treated as "not cancelled" so a Redis outage
// degrades correlation to its normal behavior rather than blocking it.
func (s *Set) IsCancelled(ctx context.Context, requestID string) bool {
	n, err := s.client.Exists(ctx, key(requestID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}
