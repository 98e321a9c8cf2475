package strategy

import (
	"fmt"
	"sort"

	"odin-backtester/internal/model"
)

// Options are the knobs shared by every strategy.
type Options struct {
	RiskPerTrade float64
}

var DefaultOptions = Options{RiskPerTrade: 0.05}

var registry = map[string]func(Options) Strategy{
	"momentum_v1":           func(o Options) Strategy { return NewMomentumStrategy(o.RiskPerTrade) },
	"mean_reversion_v1":     func(o Options) Strategy { return NewMeanReversionStrategy(o.RiskPerTrade) },
	"bollinger_breakout_v1": func(Options) Strategy { return NewBollingerBreakoutStrategy() },
	"ma_cross_v1":           func(o Options) Strategy { return NewMACrossStrategy(20, 50, o.RiskPerTrade) },
}

// NewStrategy builds the strategy registered under id.
func NewStrategy(id string, opts Options) (Strategy, error) {
	build, ok := registry[id]
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("unknown strategy id: %s", id))
	}
	return build(opts), nil
}

// Known reports whether id names a registered strategy.
func Known(id string) bool {
	_, ok := registry[id]
	return ok
}

// Catalog lists every registered strategy, sorted by id.
func Catalog(opts Options) []model.StrategyInfo {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.StrategyInfo, 0, len(ids))
	for _, id := range ids {
		s := registry[id](opts)
		out = append(out, model.StrategyInfo{
			ID:          s.ID(),
			Name:        s.Name(),
			Description: s.Description(),
			Parameters:  s.Parameters(),
		})
	}
	return out
}
