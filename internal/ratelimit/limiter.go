// Package ratelimit enforces per-actor, per-action quotas against Redis
// using INCR + EXPIRE window counters. Quota state lives in the shared
// store, not in process memory, so limits survive restarts and are shared
// by every server process. Counter-store failures deny the action
// (fail closed) to preserve quota integrity across the fleet.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one quota: the action key namespace, the point capacity,
// the rolling window, and an optional block duration. When Block is
// non-zero, a single violation locks the actor out for the full block
// duration instead of throttling point by point.
type Rule struct {
	Key    string        // Redis key prefix, also the action namespace (e.g. "rl:swipe:")
	Limit  int           // max points in the window
	Window time.Duration // rolling window
	Block  time.Duration // hard lockout after a violation; 0 = none
}

// Standard quotas. Keys are namespaced per action, so quotas never share
// counters.
var (
	// RuleSwipe allows 100 like/dislike actions per 24h; a violation
	// locks swiping for 48h rather than draining point by point.
	RuleSwipe = Rule{Key: "rl:swipe:", Limit: 100, Window: 24 * time.Hour, Block: 48 * time.Hour}

	// RuleMessage allows 1000 messages per 24h per sender.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 1000, Window: 24 * time.Hour}

	// RuleConnect allows 10 WebSocket upgrade attempts per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: 1 * time.Minute}
)

// Error is the rejection returned when a quota is exhausted. RetryAfter is
// a hint for the client; the message is human-readable.
type Error struct {
	ActionKey  string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// Limiter performs quota checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow consumes one point of the actor's quota under rule. It returns nil
// when the action is admitted, a *Error when the quota is exhausted or the
// actor is blocked, and a wrapped store error when Redis is unreachable —
// callers must treat any non-nil return as a denial.
func (l *Limiter) Allow(ctx context.Context, actor string, rule Rule) error {
	key := rule.Key + actor

	if rule.Block > 0 {
		blocked, ttl, err := l.blockState(ctx, rule, actor)
		if err != nil {
			return failClosed(key, err)
		}
		if blocked {
			return &Error{ActionKey: rule.Key, RetryAfter: ttl}
		}
	}

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return failClosed(key, err)
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			// The key exists without a TTL and would block the actor
			// forever; best effort delete, then deny.
			l.client.Del(ctx, key)
			return failClosed(key, err)
		}
	}

	if int(count) <= rule.Limit {
		return nil
	}

	// Quota exhausted. With a block duration, the single violation turns
	// into a hard lockout longer than the window itself.
	if rule.Block > 0 {
		if err := l.client.Set(ctx, blockKey(rule, actor), "1", rule.Block).Err(); err != nil {
			log.Printf("[ratelimit] set block key=%s: %v", blockKey(rule, actor), err)
		}
		return &Error{ActionKey: rule.Key, RetryAfter: rule.Block}
	}

	retry := rule.Window
	if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retry = ttl
	}
	return &Error{ActionKey: rule.Key, RetryAfter: retry}
}

// Remaining returns the points the actor has left in the current window.
// Returns the full limit if no counter exists yet.
func (l *Limiter) Remaining(ctx context.Context, actor string, rule Rule) (int, error) {
	count, err := l.client.Get(ctx, rule.Key+actor).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: counter store: %w", err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// blockState reports whether the actor is currently locked out and for how
// much longer.
func (l *Limiter) blockState(ctx context.Context, rule Rule, actor string) (bool, time.Duration, error) {
	ttl, err := l.client.TTL(ctx, blockKey(rule, actor)).Result()
	if err != nil {
		return false, 0, err
	}
	// TTL returns -2 for a missing key and -1 for one without expiry.
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

func blockKey(rule Rule, actor string) string {
	return rule.Key + "block:" + actor
}

// failClosed logs the counter-store failure and returns a denial. Quota
// integrity wins over availability: an unreachable store must not admit
// unmetered actions.
func failClosed(key string, err error) error {
	log.Printf("[ratelimit] counter store error key=%s: %v (failing closed)", key, err)
	return fmt.Errorf("ratelimit: counter store unavailable: %w", err)
}
