package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// RedisConfig configures the read-through series cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// DefaultRedisConfig returns cache defaults; Addr empty means disabled
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{TTL: 24 * time.Hour, Prefix: "bt:series:"}
}

// NewRedisClient connects and pings
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// CachedSource serves series from Redis and falls through to next on a miss.
// Cache failures are logged and never fail a load.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCachedSource decorates next with a Redis cache
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, prefix string) *CachedSource {
	if prefix == "" {
		prefix = DefaultRedisConfig().Prefix
	}
	return &CachedSource{next: next, client: client, ttl: ttl, prefix: prefix}
}

// Name identifies the source in logs and errors
func (c *CachedSource) Name() string { return "cached-" + c.next.Name() }

// Key builds the cache key for a symbol and date range
func (c *CachedSource) Key(symbol string, from, to time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", c.prefix, c.next.Name(), symbol, dateKey(from), dateKey(to))
}

// Load checks the cache before delegating
func (c *CachedSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	key := c.Key(symbol, from, to)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s market.Series
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			log.Debug().Str("key", key).Int("bars", len(s)).Msg("series cache hit")
			return s, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
		log.Debug().Str("key", key).Msg("series cache miss")
	default:
		log.Warn().Err(err).Str("key", key).Msg("series cache read failed")
	}

	s, err := c.next.Load(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return s, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("series cache write failed")
	}
	return s, nil
}

// Invalidate drops one cached range
func (c *CachedSource) Invalidate(ctx context.Context, symbol string, from, to time.Time) error {
	if err := c.client.Del(ctx, c.Key(symbol, from, to)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(market.DateLayout)
}
