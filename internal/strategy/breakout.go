package strategy

import (
	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
)

// BollingerBreakoutStrategy 布林带突破: a bullish bar that opens below the
// lower 20-bar band and trades above both the 20- and 80-bar upper bands.
//
// The entry is split in two tranches. The first fills at the signal close;
// the second is a limit at pullbackRatio*close valid for the next bar only.
type BollingerBreakoutStrategy struct {
	fastPeriod    int
	slowPeriod    int
	k             float64
	totalSize     float64
	pullbackRatio float64
	risk          RiskProfile
}

func NewBollingerBreakoutStrategy() *BollingerBreakoutStrategy {
	return &BollingerBreakoutStrategy{
		fastPeriod:    20,
		slowPeriod:    80,
		k:             2,
		totalSize:     0.30,
		pullbackRatio: 0.995,
		risk:          DefaultRisk,
	}
}

func (s *BollingerBreakoutStrategy) ID() string   { return "bollinger_breakout_v1" }
func (s *BollingerBreakoutStrategy) Name() string { return "Bollinger Breakout v1" }
func (s *BollingerBreakoutStrategy) Description() string {
	return "1h Bollinger breakout: open below the 20BB lower band, high above both the 20BB and 80BB upper bands, bullish close"
}

func (s *BollingerBreakoutStrategy) Parameters() map[string]float64 {
	return map[string]float64{
		"bb_20_period":   float64(s.fastPeriod),
		"bb_80_period":   float64(s.slowPeriod),
		"bb_std":         s.k,
		"position_size":  s.totalSize,
		"pullback_ratio": s.pullbackRatio,
	}
}

func (s *BollingerBreakoutStrategy) Indicators() indicator.Spec {
	return indicator.Spec{indicator.Bollinger(s.fastPeriod, s.k), indicator.Bollinger(s.slowPeriod, s.k)}
}

func (s *BollingerBreakoutStrategy) Risk() RiskProfile { return s.risk }

func (s *BollingerBreakoutStrategy) Evaluate(i int, series model.Series, set *indicator.Set, pos model.Position) (model.Signal, bool) {
	if !pos.IsFlat() {
		return model.Signal{}, false
	}
	v, ok := values(set, i,
		indicator.LowerName(s.fastPeriod),
		indicator.UpperName(s.fastPeriod),
		indicator.UpperName(s.slowPeriod))
	if !ok {
		return model.Signal{}, false
	}
	lower20, upper20, upper80 := v[0], v[1], v[2]
	bar := series.Bars[i]

	opensBelow := bar.Open < lower20
	breaksBoth := bar.High > upper20 && bar.High > upper80
	bullish := bar.Close > bar.Open
	if !(opensBelow && breaksBoth && bullish) {
		return model.Signal{}, false
	}

	half := s.totalSize / 2
	return model.Signal{
		BarIndex:     i,
		Kind:         model.SignalEntryLong,
		Price:        bar.Close,
		SizeFraction: half,
		Pullback: &model.Tranche{
			Price:        bar.Close * s.pullbackRatio,
			SizeFraction: s.totalSize - half,
		},
		Reason: "bollinger 20/80 breakout",
	}, true
}
