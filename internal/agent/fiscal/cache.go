package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/receipt-processor/pkg/logger"
)

const cachePrefix = "fiscal:"

// Cache stores raw lookup answers. Get returns ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.client.Set(ctx, cachePrefix+key, val, ttl).Err()
}

// CachedLookup answers repeated keys from the cache. Cache errors are logged
// and never fail a lookup.
type CachedLookup struct {
	next   Lookup
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedLookup(next Lookup, cache Cache, ttl time.Duration, log logger.Logger) *CachedLookup {
	return &CachedLookup{next: next, cache: cache, ttl: ttl, logger: log.Named("fiscal-cache")}
}

func (c *CachedLookup) Consult(ctx context.Context, accessKey string) (json.RawMessage, error) {
	if val, ok, err := c.cache.Get(ctx, accessKey); err != nil {
		c.logger.Warn("Fiscal cache read failed", logger.Error(err))
	} else if ok {
		return json.RawMessage(val), nil
	}

	val, err := c.next.Consult(ctx, accessKey)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, accessKey, val, c.ttl); err != nil {
		c.logger.Warn("Fiscal cache write failed", logger.Error(err))
	}
	return val, nil
}
