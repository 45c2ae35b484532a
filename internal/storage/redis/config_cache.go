// Package redis caches ScraperConfig reads in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

const keyPrefix = "scraper:config:"

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ConfigCache is a read-through cache in front of a scraper.ConfigStore.
// Redis failures degrade to the backing store.
type ConfigCache struct {
	client  goredis.UniversalClient
	backing scraper.ConfigStore
	ttl     time.Duration
	logger  *zap.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() // nolint:errcheck // connection never became usable
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewConfigCache wraps backing with a Redis cache.
func NewConfigCache(client goredis.UniversalClient, backing scraper.ConfigStore, ttl time.Duration, logger *zap.Logger) *ConfigCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ConfigCache{client: client, backing: backing, ttl: ttl, logger: logger}
}

// GetConfig serves from Redis and falls back to the backing store.
func (c *ConfigCache) GetConfig(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, keyPrefix+key).Result()
	switch {
	case err == nil:
		return value, nil
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("config cache read failed", zap.String("key", key), zap.Error(err))
	}
	value, err = c.backing.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("config cache fill failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// SetConfig writes through and refreshes the cached entry.
func (c *ConfigCache) SetConfig(ctx context.Context, key, value string) error {
	if err := c.backing.SetConfig(ctx, key, value); err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("config cache refresh failed", zap.String("key", key), zap.Error(err))
		// A stale entry would outlive the write, so drop it.
		_ = c.client.Del(ctx, keyPrefix+key).Err() // nolint:errcheck // best effort
	}
	return nil
}

// Ping reports whether Redis answers.
func (c *ConfigCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
