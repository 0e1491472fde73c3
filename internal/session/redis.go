package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/edufolio/adminconsole/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ Store = (*RedisStore)(nil)

// Other processes (the cli, another console) write the same redis keys, so
// locally cached values are only trusted for a few seconds.
const localCacheExpireSeconds = 5

// RedisStore keeps every session key as a plain redis string under keyPrefix.
// When a local cache is set, reads are served from it before redis.
type RedisStore struct {
	redisClient *redis.Client
	keyPrefix   string
	localCache  *freecache.Cache
}

func NewRedisStore(redisClient *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
	}
}

// WithLocalCache puts a freecache of cacheSizeMB megabytes in front of redis.
func (rs *RedisStore) WithLocalCache(cacheSizeMB int) *RedisStore {
	if cacheSizeMB > 0 {
		rs.localCache = freecache.NewCache(cacheSizeMB * 1024 * 1024)
	}
	return rs
}

func (rs *RedisStore) redisKey(key string) string {
	return rs.keyPrefix + key
}

func (rs *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.get")
	defer span.End()

	redisKey := rs.redisKey(key)
	if rs.localCache != nil {
		if cached, err := rs.localCache.Get([]byte(redisKey)); err == nil {
			span.SetAttributes(attribute.Bool("session.from-cache", true))
			return string(cached), true
		}
	}

	cmd := rs.redisClient.Get(ctx, redisKey)
	if err := cmd.Err(); err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Errorf("redis session store, get [%s]: %s", key, err)
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		return "", false
	}

	value := cmd.Val()
	if rs.localCache != nil {
		if err := rs.localCache.Set([]byte(redisKey), []byte(value), localCacheExpireSeconds); err != nil {
			log.Warnf("redis session store, cache [%s]: %s", key, err)
		}
	}

	return value, true
}

func (rs *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.set")
	defer span.End()

	redisKey := rs.redisKey(key)
	if err := rs.redisClient.Set(ctx, redisKey, value, 0).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	if rs.localCache != nil {
		if err := rs.localCache.Set([]byte(redisKey), []byte(value), localCacheExpireSeconds); err != nil {
			// redis holds the value, drop the stale cached one
			rs.localCache.Del([]byte(redisKey))
		}
	}

	return nil
}

func (rs *RedisStore) Remove(ctx context.Context, key string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "redisStore.remove")
	defer span.End()

	redisKey := rs.redisKey(key)
	if rs.localCache != nil {
		rs.localCache.Del([]byte(redisKey))
	}

	if err := rs.redisClient.Del(ctx, redisKey).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("redis del %s: %w", key, err)
	}

	return nil
}
