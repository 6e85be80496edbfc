// Package cache keeps authenticated principals in Redis so the auth
// middleware can skip a database read per request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finance-tracker/internal/models"

	"github.com/redis/go-redis/v9"
)

const userTTL = 10 * time.Minute

// cachedUser is the subset of models.User stored in Redis.
type cachedUser struct {
	ID       string            `json:"id"`
	Username string            `json:"username"`
	Name     string            `json:"name"`
	Status   models.UserStatus `json:"status"`
}

// UserCache is a cache-aside store for users. A nil *UserCache is valid and
// caches nothing.
type UserCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewUserCache connects to addr and verifies the connection.
func NewUserCache(ctx context.Context, addr string, logger *slog.Logger) (*UserCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserCache{rdb: rdb, ttl: userTTL, logger: logger}, nil
}

func userKey(id string) string {
	return "user:" + id + ":data"
}

// Get returns the cached user, or false on a miss or any Redis error.
func (c *UserCache) Get(ctx context.Context, id string) (*models.User, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Error("Redis GET failed", "error", err, "user_id", id)
		}
		return nil, false
	}
	var u cachedUser
	if err := json.Unmarshal(data, &u); err != nil {
		c.logger.Warn("Failed to unmarshal cached user", "user_id", id, "error", err)
		return nil, false
	}
	return &models.User{ID: u.ID, Username: u.Username, Name: u.Name, Status: u.Status}, true
}

// Set stores u. Failures are logged and otherwise ignored.
func (c *UserCache) Set(ctx context.Context, u *models.User) {
	if c == nil || u == nil {
		return
	}
	data, err := json.Marshal(cachedUser{ID: u.ID, Username: u.Username, Name: u.Name, Status: u.Status})
	if err != nil {
		c.logger.Error("Failed to marshal user for caching", "error", err, "user_id", u.ID)
		return
	}
	if err := c.rdb.Set(ctx, userKey(u.ID), data, c.ttl).Err(); err != nil {
		c.logger.Error("Redis SET failed", "error", err, "user_id", u.ID)
	}
}

// Close releases the Redis connection pool.
func (c *UserCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
