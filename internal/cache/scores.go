// Package cache provides a Redis-backed read-through cache for risk
// scores. The cache degrades gracefully: when Redis is unavailable every
// read is a miss and every write is dropped, so scoring never depends on
// cache health.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"riskforge/internal/scoring"
)

const keyPrefix = "riskforge:score:"

// Config holds Redis connection settings for the score cache.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	TTL          time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the default score cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Addr:         "localhost:6379",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		TTL:          5 * time.Minute,
	}
}

// ScoreCache caches scoring results in Redis keyed by entity id.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewScoreCache connects to Redis. When the connection fails or the cache
// is disabled, the returned cache operates in pass-through mode instead of
// failing startup.
func NewScoreCache(cfg Config, logger *slog.Logger) *ScoreCache {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "score_cache")

	c := &ScoreCache{ttl: cfg.TTL, logger: logger}
	if c.ttl <= 0 {
		c.ttl = 5 * time.Minute
	}
	if !cfg.Enabled {
		logger.Info("score cache disabled")
		return c
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, score cache running pass-through", "error", err)
		client.Close()
		return c
	}

	c.client = client
	logger.Info("score cache connected", "addr", cfg.Addr)
	return c
}

// Available reports whether the cache is backed by a live connection.
func (c *ScoreCache) Available() bool {
	return c.client != nil
}

// GetScore returns the cached result for an entity. Any Redis failure is
// treated as a miss.
func (c *ScoreCache) GetScore(ctx context.Context, entityID string) (*scoring.Result, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, keyPrefix+entityID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache read failed", "entity_id", entityID, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result scoring.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Debug("cache entry corrupt", "entity_id", entityID, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &result, true
}

// SetScore caches a result. Write failures are logged and dropped.
func (c *ScoreCache) SetScore(ctx context.Context, result *scoring.Result) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("cache encode failed", "entity_id", result.EntityID, "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+result.EntityID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "entity_id", result.EntityID, "error", err)
	}
}

// Invalidate drops an entity's cached score.
func (c *ScoreCache) Invalidate(ctx context.Context, entityID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+entityID).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "entity_id", entityID, "error", err)
	}
}

// Stats returns hit and miss counts since startup.
func (c *ScoreCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the Redis connection.
func (c *ScoreCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
