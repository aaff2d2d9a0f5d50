package counter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// testClient connects to a local Redis or skips the test.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLikes(t *testing.T) {
	likes := NewLikes(testClient(t))
	ctx := context.Background()
	userID := "likes-test-" + uuid.New().String()

	n, err := likes.Get(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for a fresh user, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if err := likes.Incr(ctx, userID); err != nil {
			t.Fatal(err)
		}
	}

	n, err = likes.Get(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}
