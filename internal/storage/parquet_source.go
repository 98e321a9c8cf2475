package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"odin-backtester/internal/model"

	"github.com/parquet-go/parquet-go"
)

// BarRecord is the Parquet schema for OHLCV bars.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, bar open
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetSource reads bars from files laid out as
//
//	<Dir>/<SYMBOL>/<timeframe>.parquet
type ParquetSource struct {
	Dir string
}

func NewParquetSource(dir string) *ParquetSource {
	return &ParquetSource{Dir: dir}
}

func (s *ParquetSource) Path(symbol, timeframe string) string {
	return filepath.Join(s.Dir, symbol, timeframe+".parquet")
}

func (s *ParquetSource) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error) {
	path := s.Path(symbol, timeframe)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, model.NewDataError(fmt.Sprintf("no parquet data for %s %s", symbol, timeframe), err)
	}
	rows, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, model.NewDataError(fmt.Sprintf("read %s", path), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lo, hi := start.UnixMilli(), end.UnixMilli()
	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Timestamp < lo || r.Timestamp > hi {
			continue
		}
		bars = append(bars, recordToBar(r))
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })
	return bars, nil
}

// WriteBars replaces the file for symbol and timeframe.
func (s *ParquetSource) WriteBars(symbol, timeframe string, bars []model.Bar) error {
	path := s.Path(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Symbol:    symbol,
			Timestamp: b.OpenTime.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing bars for %s/%s: %w", symbol, timeframe, err)
	}
	return nil
}

func recordToBar(r BarRecord) model.Bar {
	return model.Bar{
		OpenTime: time.UnixMilli(r.Timestamp).UTC(),
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		Volume:   r.Volume,
	}
}
