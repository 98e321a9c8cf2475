package engine

import (
	"context"
	"fmt"
	"time"

	"odin-backtester/internal/model"

	"github.com/jackc/pgx/v4/pgxpool"
)

// BarSource loads bars for [start, end] in ascending open time.
type BarSource interface {
	LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error)
}

// DataLoader reads bars from the time-series store (TimescaleDB hypertable
// keyed by symbol, period and open time).
type DataLoader struct {
	pool *pgxpool.Pool
}

func NewDataLoader(pool *pgxpool.Pool) *DataLoader {
	return &DataLoader{pool: pool}
}

func (l *DataLoader) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT time, open, high, low, close, volume
		FROM market_klines
		WHERE symbol = $1 AND period = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`,
		symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("query market_klines: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, model.NewDataError(fmt.Sprintf("malformed bar for %s %s", symbol, timeframe), err)
		}
		b.OpenTime = b.OpenTime.UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read market_klines: %w", err)
	}
	return bars, nil
}

// LoadSeries fetches and validates a series from any source. An empty range
// is a data error.
func LoadSeries(ctx context.Context, src BarSource, symbol, timeframe string, start, end time.Time) (model.Series, error) {
	bars, err := src.LoadBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		if model.KindOf(err) != model.KindInternal {
			return model.Series{}, err
		}
		return model.Series{}, model.NewDataError(fmt.Sprintf("load %s %s", symbol, timeframe), err)
	}
	series, err := model.NewSeries(symbol, timeframe, bars)
	if err != nil {
		return model.Series{}, err
	}
	if series.Len() == 0 {
		return model.Series{}, model.NewDataError(fmt.Sprintf("no bars for %s %s between %s and %s",
			symbol, timeframe, start.Format(time.RFC3339), end.Format(time.RFC3339)), nil)
	}
	if err := series.Validate(); err != nil {
		return model.Series{}, err
	}
	return series, nil
}
