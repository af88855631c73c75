// Package activity gates ingestion on the per-project activity flag.
//
// The flag lives in Redis under is_active:{project_id} and is owned by the
// project lifecycle (created true, toggled, removed on delete). This package
// only reads it on the hot path; the reconciler rewrites it in the
// background from the project database.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagebeat/pagebeat/internal/metrics"
)

// FailOpen is the single fail-safe policy for activity lookups: a cache miss
// or a cache read failure admits the batch. Only an explicitly stored false
// drops traffic. Disabled projects are therefore admitted for at most one
// reconciliation interval after a cache wipe, which is preferred over
// silently discarding live traffic.
const FailOpen = true

const keyPrefix = "is_active:"

// Gate answers whether a project should be admitted. Implementations apply
// the fail-safe policy internally; callers only branch on the boolean.
type Gate interface {
	IsActive(ctx context.Context, projectID string) bool
}

// Cache reads and writes project activity flags in Redis.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string, logger *slog.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewCacheFromClient(client, logger), nil
}

// NewCacheFromClient wraps an existing Redis client.
func NewCacheFromClient(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger}
}

// IsActive resolves the activity flag for a project. Misses and read
// failures resolve to FailOpen; failures are additionally counted and
// logged so degraded gating is visible.
func (c *Cache) IsActive(ctx context.Context, projectID string) bool {
	val, err := c.client.Get(ctx, keyPrefix+projectID).Result()
	if err == redis.Nil {
		return FailOpen
	}
	if err != nil {
		metrics.ActivityCacheErrors.Inc()
		c.logger.Warn("activity cache read failed, admitting batch",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return FailOpen
	}

	switch val {
	case "false", "0":
		return false
	case "true", "1":
		return true
	default:
		// Unrecognized value: same policy as a read failure.
		metrics.ActivityCacheErrors.Inc()
		c.logger.Warn("activity cache value unparseable, admitting batch",
			slog.String("project_id", projectID),
			slog.String("value", val),
		)
		return FailOpen
	}
}

// SetActive stores the activity flag for a project. Used by the reconciler;
// project lifecycle collaborators write through the same keys.
func (c *Cache) SetActive(ctx context.Context, projectID string, active bool) error {
	val := "false"
	if active {
		val = "true"
	}
	if err := c.client.Set(ctx, keyPrefix+projectID, val, 0).Err(); err != nil {
		return fmt.Errorf("set activity flag: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying Redis client so the rate limiter can share
// the connection.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// AllowAllGate admits every project. Used when the cache is disabled.
type AllowAllGate struct{}

func (AllowAllGate) IsActive(ctx context.Context, projectID string) bool {
	return true
}
