package processor

import (
	"context"
	"fmt"
	"time"

	"odin-backtester/internal/engine"
	"odin-backtester/internal/model"

	"go.uber.org/zap"
)

// Resample aggregates bars into windows of the given interval. Windows are
// aligned to the interval and empty windows are skipped.
func Resample(bars []model.Bar, interval time.Duration) []model.Bar {
	if len(bars) == 0 || interval <= 0 {
		return nil
	}
	out := make([]model.Bar, 0, len(bars))
	var candle *model.Bar
	for _, b := range bars {
		window := b.OpenTime.Truncate(interval)
		if candle == nil || !candle.OpenTime.Equal(window) {
			out = append(out, model.Bar{
				OpenTime: window,
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
				Close:    b.Close,
				Volume:   b.Volume,
			})
			candle = &out[len(out)-1]
			continue
		}
		if b.High > candle.High {
			candle.High = b.High
		}
		if b.Low < candle.Low {
			candle.Low = b.Low
		}
		candle.Close = b.Close
		candle.Volume += b.Volume
	}
	return out
}

// ResamplingSource serves any timeframe at or above the stored one by
// aggregating stored bars.
type ResamplingSource struct {
	next   engine.BarSource
	base   string
	logger *zap.Logger
}

func NewResamplingSource(next engine.BarSource, baseTimeframe string, logger *zap.Logger) (*ResamplingSource, error) {
	if _, err := model.ParseTimeframe(baseTimeframe); err != nil {
		return nil, fmt.Errorf("source timeframe: %w", err)
	}
	return &ResamplingSource{next: next, base: baseTimeframe, logger: logger}, nil
}

func (s *ResamplingSource) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error) {
	want, err := model.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	have, _ := model.ParseTimeframe(s.base)
	if want == have {
		return s.next.LoadBars(ctx, symbol, s.base, start, end)
	}
	if want < have || want%have != 0 {
		return nil, model.NewDataError(fmt.Sprintf("cannot build %s bars from %s data", timeframe, s.base), nil)
	}

	bars, err := s.next.LoadBars(ctx, symbol, s.base, start.Truncate(want), end)
	if err != nil {
		return nil, err
	}
	out := Resample(bars, want)
	s.logger.Debug("resampled bars",
		zap.String("symbol", symbol),
		zap.String("from", s.base),
		zap.String("to", timeframe),
		zap.Int("in", len(bars)),
		zap.Int("out", len(out)))
	return out, nil
}
