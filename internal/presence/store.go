// Package presence records which server instance currently holds a user's
// live WebSocket in Redis. The in-process Connection Registry remains the
// source of truth for local delivery; presence records exist so operators
// and sibling processes can see where a user is connected.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for presence hashes.
	Prefix = "presence:"

	// TTL bounds how long a stale record can outlive a crashed server.
	// Live servers refresh it from the heartbeat loop.
	TTL = 2 * time.Minute
)

// Record describes one user's live connection.
type Record struct {
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`       // which server instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Set writes the presence record for userID. A reconnect overwrites any
// prior record, mirroring the registry's last-write-wins semantics.
func (s *Store) Set(ctx context.Context, userID string) error {
	key := Prefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      userID,
		"server":       s.serverName,
		"connected_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the presence record for userID, or nil if absent.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, Prefix+userID).Scan(&rec); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		return nil, nil // not found
	}
	return &rec, nil
}

// Refresh extends the record's TTL. Called from the heartbeat loop for
// every connection that is still alive.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, Prefix+userID, TTL).Err()
}

// Clear removes the presence record. Called on every disconnect path.
// Only records this server owns are removed, so a user who already
// reconnected to another instance keeps the newer record.
func (s *Store) Clear(ctx context.Context, userID string) error {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Server != s.serverName {
		return nil
	}
	return s.client.Del(ctx, Prefix+userID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (rate limiter, like counters).
func (s *Store) Client() *redis.Client {
	return s.client
}
