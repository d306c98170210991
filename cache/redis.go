package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of redis.Cmdable used by Redis. *redis.Client,
// *redis.ClusterClient and *redis.Ring all satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis passes through to a shared Redis connection. The caller creates
// and owns the connection; one Redis value can back any number of Auth
// instances. Concurrency guarantees are those of the Redis server.
type Redis struct {
	client RedisClient
}

// NewRedis wraps an established client. A nil client is a configuration
// error.
func NewRedis(client RedisClient) (*Redis, error) {
	if isNil(client) {
		return nil, apierrors.ErrCacheUnavailable
	}

	return &Redis{client: client}, nil
}

func isNil(client RedisClient) bool {
	if client == nil {
		return true
	}

	if c, ok := client.(*redis.Client); ok && c == nil {
		return true
	}

	return false
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("redis get: %w", err)
	}

	return v, true, nil
}

// Set stores value with SET ... EX. A non-positive TTL deletes the key,
// since Redis would otherwise keep the value forever.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}

		return nil
	}

	if ttl < time.Second {
		ttl = time.Second
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}
