package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BTC-USDT", "BTCUSDT"},
		{"btcusdt", "BTCUSDT"},
		{"BTC/USDT", "BTCUSDT"},
		{"ETH_USDT", "ETHUSDT"},
		{" XBT/USD ", "XBTUSD"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSymbol(tt.input))
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("1H")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	_, err = ParseTimeframe("2h")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSeries_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	good := func(i int) Bar {
		return Bar{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 3}
	}

	s, err := NewSeries("BTCUSDT", "1h", []Bar{good(0), good(1)})
	require.NoError(t, err)
	assert.NoError(t, s.Validate())
	assert.Equal(t, start.Add(2*time.Hour), s.CloseTime(1))

	tests := []struct {
		name string
		mut  func(b []Bar)
	}{
		{"out of order", func(b []Bar) { b[1].OpenTime = b[0].OpenTime }},
		{"zero price", func(b []Bar) { b[1].Low = 0 }},
		{"nan price", func(b []Bar) { b[0].Close = math.NaN() }},
		{"negative volume", func(b []Bar) { b[0].Volume = -1 }},
		{"high below close", func(b []Bar) { b[0].High = 10.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := []Bar{good(0), good(1)}
			tt.mut(bars)
			s.Bars = bars
			err := s.Validate()
			require.Error(t, err)
			assert.Equal(t, KindData, KindOf(err))
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NewDataError("no rows", errors.New("eof")))
	assert.Equal(t, KindData, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Contains(t, wrapped.Error(), "DataError: no rows: eof")

	assert.Equal(t, "ComputationError: rsi(0): period must be positive",
		NewComputationError("rsi(0)", "period must be positive").Error())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
