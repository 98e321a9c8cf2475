package strategy

import (
	"testing"

	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestMACrossStrategy_Logic(t *testing.T) {
	s := NewMACrossStrategy(2, 4, 0.05)
	series := seriesOf(flatBar(10), flatBar(11), flatBar(12), flatBar(13), flatBar(5))

	// Short MA (2) and Long MA (4) over 10, 11, 12, 13, 5
	set := indicator.NewSet(5, map[string][]float64{
		"sma_2": {nan, 10.5, 11.5, 12.5, 9},
		"sma_4": {nan, nan, nan, 11.5, 10.25},
	})

	// Not enough data
	for i := 0; i < 4; i++ {
		_, ok := s.Evaluate(i, series, set, model.Position{Direction: model.Flat})
		assert.False(t, ok)
	}

	// Short 9 < Long 10.25 after the drop, previous bar had 12.5 > 11.5
	sig, ok := s.Evaluate(4, series, set, longPosition())
	assert.True(t, ok)
	assert.Equal(t, model.SignalExit, sig.Kind)
	assert.Equal(t, "death cross", sig.Reason)

	set = indicator.NewSet(3, map[string][]float64{
		"sma_2": {9, 11, 9},
		"sma_4": {10, 10, 10},
	})
	series = seriesOf(flatBar(9), flatBar(11), flatBar(9))

	sig, ok = s.Evaluate(1, series, set, model.Position{Direction: model.Flat})
	assert.True(t, ok)
	assert.Equal(t, model.SignalEntryLong, sig.Kind)

	sig, ok = s.Evaluate(2, series, set, longPosition())
	assert.True(t, ok)
	assert.Equal(t, model.SignalExit, sig.Kind)
}
