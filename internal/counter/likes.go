// Package counter provides Redis-backed per-user counters shared across
// server processes.
//
//	Key:   likes:<user_id>
//	Value: number of likes received
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LikesPrefix is the Redis key prefix for received-like counters.
const LikesPrefix = "likes:"

// Likes counts likes received per user. The increment happens on every
// liked=true view write, matched or not.
type Likes struct {
	client *redis.Client
}

// NewLikes creates a Likes counter using the provided Redis client.
func NewLikes(client *redis.Client) *Likes {
	return &Likes{client: client}
}

// Incr atomically increments userID's received-like counter.
func (c *Likes) Incr(ctx context.Context, userID string) error {
	if err := c.client.Incr(ctx, LikesPrefix+userID).Err(); err != nil {
		return fmt.Errorf("counter: incr likes: %w", err)
	}
	return nil
}

// Get returns userID's received-like counter, or 0 if none exists.
func (c *Likes) Get(ctx context.Context, userID string) (int64, error) {
	n, err := c.client.Get(ctx, LikesPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: get likes: %w", err)
	}
	return n, nil
}
