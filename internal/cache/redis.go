package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "hls-archive:playlist:"

// RedisCache is a Cache shared between replicas. Expiry is delegated to
// Redis key TTLs.
type RedisCache struct {
	client  *redis.Client
	log     *slog.Logger
	timeout time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig, log *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("connected to redis cache", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return newRedisCache(client, log), nil
}

func newRedisCache(client *redis.Client, log *slog.Logger) *RedisCache {
	return &RedisCache{client: client, log: log, timeout: time.Second}
}

func redisKey(key Key) string {
	return redisKeyPrefix + strconv.FormatUint(xxhash.Sum64String(key.String()), 16)
}

type redisValue struct {
	Key   string `json:"key"`
	Entry *Entry `json:"entry"`
}

// Get implements Cache.Get. Redis errors are logged and treated as misses.
func (c *RedisCache) Get(ctx context.Context, key Key) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis get failed", slog.String("key", key.String()), slog.String("error", err.Error()))
		}
		c.misses.Add(1)
		return nil, false
	}
	var v redisValue
	if err := json.Unmarshal(b, &v); err != nil || v.Key != key.String() || v.Entry == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.Entry, true
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key Key, e *Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := json.Marshal(redisValue{Key: key.String(), Entry: e})
	if err != nil {
		c.log.Warn("redis value marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, redisKey(key), b, ttl).Err(); err != nil {
		c.log.Warn("redis set failed", slog.String("key", key.String()), slog.String("error", err.Error()))
		return
	}
	c.sets.Add(1)
}

// Len implements Cache.Len. Redis is shared, so the local view is unknown.
func (c *RedisCache) Len() int { return -1 }

// Stats returns counters observed by this process.
func (c *RedisCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Sets: c.sets.Load()}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
