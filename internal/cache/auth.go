package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/model"
)

const (
	// authCachePrefix maps a hashed API key to the verified user.
	authCachePrefix = "auth:user:"
	// authIndexPrefix maps a user id to the set of its auth cache keys.
	authIndexPrefix = "auth:idx:"
)

// CachedUser is the public part of a user stored in Redis.
// The key hash never leaves Postgres.
type CachedUser struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	KeyExpiresAt time.Time `json:"key_expires_at"`
	IsValid      bool      `json:"is_valid"`
}

// GetUser retrieves a cached user by cache key.
// Returns nil, nil on a miss or a corrupted entry.
func (c *Cache) GetUser(ctx context.Context, cacheKey string) (*model.User, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var cached CachedUser
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}

	return &model.User{
		ID:           cached.ID,
		Email:        cached.Email,
		CreatedAt:    cached.CreatedAt,
		KeyExpiresAt: cached.KeyExpiresAt,
		IsValid:      cached.IsValid,
	}, nil
}

// SetUser caches a verified user for ttl and records the key in the user's index.
func (c *Cache) SetUser(ctx context.Context, cacheKey string, user *model.User, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(CachedUser{
		ID:           user.ID,
		Email:        user.Email,
		CreatedAt:    user.CreatedAt,
		KeyExpiresAt: user.KeyExpiresAt,
		IsValid:      user.IsValid,
	})
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}

	indexKey := authIndexPrefix + strconv.FormatInt(user.ID, 10)

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, authCachePrefix+cacheKey, data, ttl)
		pipe.SAdd(ctx, indexKey, cacheKey)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}
	return nil
}

// InvalidateUser removes every cached auth entry for userID.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	indexKey := authIndexPrefix + strconv.FormatInt(userID, 10)

	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read auth index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, indexKey)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cached auth entries: %w", err)
	}
	return nil
}
