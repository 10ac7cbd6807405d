package chorus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces chorus entries so Clear never touches keys owned
// by other applications sharing the instance.
const redisKeyPrefix = "chorus:cache:"

// RedisCache implements Cache on top of Redis. Expiry is delegated to Redis
// TTLs, so entries disappear without a sweep. Suitable when multiple
// processes share memoized stage output.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a cache backed by the given Redis client.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cache := chorus.NewRedisCache(rdb)
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &CacheError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

// Set implements Cache. A zero ttl stores the entry without expiration.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return &CacheError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return &CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Exists implements Cache.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, &CacheError{Op: "exists", Key: key, Err: err}
	}
	return n > 0, nil
}

// Clear implements Cache. Only keys under the chorus namespace are removed.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return &CacheError{Op: "clear", Key: redisKeyPrefix + "*", Err: err}
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return &CacheError{Op: "clear", Key: redisKeyPrefix + "*", Err: err}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
