package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Bar 代表一根K线 (one OHLCV sample)
type Bar struct {
	OpenTime time.Time `json:"t" db:"time"`
	Open     float64   `json:"o" db:"open"`
	High     float64   `json:"h" db:"high"`
	Low      float64   `json:"l" db:"low"`
	Close    float64   `json:"c" db:"close"`
	Volume   float64   `json:"v" db:"volume"`
}

// Series is an ordered run of bars at a fixed timeframe. Gaps are allowed.
type Series struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Interval  time.Duration `json:"interval"`
	Bars      []Bar         `json:"bars"`
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe maps a timeframe label to its bar duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.ToLower(tf)]
	if !ok {
		return 0, NewValidationError(fmt.Sprintf("unsupported timeframe %q", tf))
	}
	return d, nil
}

// NewSeries builds a series for a known timeframe.
func NewSeries(symbol, timeframe string, bars []Bar) (Series, error) {
	interval, err := ParseTimeframe(timeframe)
	if err != nil {
		return Series{}, err
	}
	return Series{
		Symbol:    symbol,
		Timeframe: strings.ToLower(timeframe),
		Interval:  interval,
		Bars:      bars,
	}, nil
}

func (s Series) Len() int { return len(s.Bars) }

// CloseTime is the end of bar i.
func (s Series) CloseTime(i int) time.Time {
	return s.Bars[i].OpenTime.Add(s.Interval)
}

// Validate checks ordering and price sanity. Violations are data errors.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if i > 0 && !b.OpenTime.After(s.Bars[i-1].OpenTime) {
			return NewDataError(fmt.Sprintf("bar %d at %s is not after %s", i,
				b.OpenTime.Format(time.RFC3339), s.Bars[i-1].OpenTime.Format(time.RFC3339)), nil)
		}
		for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if !(p > 0) || math.IsInf(p, 0) {
				return NewDataError(fmt.Sprintf("bar %d has invalid price %v", i, p), nil)
			}
		}
		if b.Volume < 0 || math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
			return NewDataError(fmt.Sprintf("bar %d has invalid volume %v", i, b.Volume), nil)
		}
		if b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
			return NewDataError(fmt.Sprintf("bar %d has inconsistent high/low", i), nil)
		}
	}
	return nil
}

// NormalizeSymbol unifies different exchange symbol formats into a standard one (e.g. BTCUSDT)
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}
