package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusTTL = 24 * time.Hour

// Cache mirrors presence status and last-seen timestamps into Redis so
// other services can read them without hitting the relay. All writes are
// best-effort; callers log failures and move on.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// SetUserStatus writes the derived presence status under a TTL'd key.
func (c *Cache) SetUserStatus(ctx context.Context, userID, status string) error {
	return c.client.Set(ctx, "status:"+userID, status, statusTTL).Err()
}

// TouchLastSeen records the last liveness signal for the user.
func (c *Cache) TouchLastSeen(ctx context.Context, userID string) error {
	return c.client.Set(ctx, "lastseen:"+userID, time.Now().UTC().Format(time.RFC3339), statusTTL).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
