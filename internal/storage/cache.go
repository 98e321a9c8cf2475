package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"odin-backtester/internal/engine"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cacheClient is the slice of redis.UniversalClient the cache needs.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedSource keeps loaded ranges in Redis as JSON. Redis failures degrade
// to a direct load.
type CachedSource struct {
	next   engine.BarSource
	client cacheClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedSource(next engine.BarSource, client cacheClient, ttl time.Duration, logger *zap.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSource{
		next:   next,
		client: client,
		prefix: "backtest:bars:",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedSource) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error) {
	key := c.key(symbol, timeframe, start, end)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var bars []model.Bar
		if err := json.Unmarshal(data, &bars); err == nil {
			infrastructure.BarCacheRequests.WithLabelValues("hit").Inc()
			return bars, nil
		}
		c.logger.Warn("dropping undecodable cached bars", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("bar cache unavailable", zap.String("key", key), zap.Error(err))
	}
	infrastructure.BarCacheRequests.WithLabelValues("miss").Inc()

	bars, err := c.next.LoadBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return bars, nil
	}
	data, err = json.Marshal(bars)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bars: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache bars", zap.String("key", key), zap.Error(err))
	}
	return bars, nil
}

func (c *CachedSource) key(symbol, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", c.prefix, symbol, timeframe, start.Unix(), end.Unix())
}
