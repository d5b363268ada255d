package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/common/logger"
)

// keyPrefix namespaces cache entries away from the execution keyspace
// that the engine owns on the same Redis.
const keyPrefix = "cache:"

// RedisCache backs Cache with Redis so that gateway replicas share one
// view of cached reads and invalidations.
type RedisCache struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewRedisCache wraps an existing client. The caller keeps ownership
// of the connection; Close here is a no-op.
func NewRedisCache(rdb *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	c.log.WithContext(ctx).Debug("cache hit", "key", key)
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, keyPrefix+key).Err()
}

func (c *RedisCache) Close() error {
	return nil
}
