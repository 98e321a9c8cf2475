package app

import (
	"context"
	"fmt"

	"odin-backtester/internal/engine"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/job"
	"odin-backtester/internal/processor"
	"odin-backtester/internal/storage"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newBarSource assembles the read path for bars:
// store -> resampler -> optional Redis cache.
func (a *App) newBarSource(ctx context.Context) (engine.BarSource, error) {
	var src engine.BarSource
	switch a.Config.DataSource {
	case "timescale":
		pool, err := pgxpool.Connect(ctx, a.Config.TimeseriesDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to timeseries database: %w", err)
		}
		a.Timeseries = pool
		src = engine.NewDataLoader(pool)
	case "parquet":
		src = storage.NewParquetSource(a.Config.ParquetDir)
	case "synthetic":
		// generated at any timeframe, nothing to resample
		src = storage.NewSyntheticSource()
	default:
		return nil, fmt.Errorf("unknown data source %q", a.Config.DataSource)
	}

	if a.Config.DataSource != "synthetic" {
		rs, err := processor.NewResamplingSource(src, a.Config.SourceTimeframe, a.Logger)
		if err != nil {
			return nil, err
		}
		src = rs
	}

	if a.Config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("redis unavailable, bar cache disabled",
				zap.String("addr", a.Config.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			a.Redis = client
			src = storage.NewCachedSource(src, client, a.Config.BarCacheTTL, a.Logger)
		}
	}

	a.Logger.Info("bar source ready",
		zap.String("data_source", a.Config.DataSource),
		zap.String("source_timeframe", a.Config.SourceTimeframe),
		zap.Bool("cache", a.Redis != nil))
	return src, nil
}

// eventPublisher routes job events through JetStream when connected, where
// the push gateway picks them up again; otherwise straight to the gateway.
func (a *App) eventPublisher() job.EventPublisher {
	if a.JS != nil {
		return infrastructure.NewNATSPublisher(a.JS, a.Logger)
	}
	return a.PushGateway
}
