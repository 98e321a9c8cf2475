package strategy

import (
	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
)

// MACrossStrategy 双均线策略: golden cross in, death cross out.
type MACrossStrategy struct {
	shortPeriod  int
	longPeriod   int
	riskPerTrade float64
	risk         RiskProfile
}

func NewMACrossStrategy(shortPeriod, longPeriod int, riskPerTrade float64) *MACrossStrategy {
	return &MACrossStrategy{
		shortPeriod:  shortPeriod,
		longPeriod:   longPeriod,
		riskPerTrade: riskPerTrade,
		risk:         DefaultRisk,
	}
}

func (s *MACrossStrategy) ID() string   { return "ma_cross_v1" }
func (s *MACrossStrategy) Name() string { return "MA Cross v1" }
func (s *MACrossStrategy) Description() string {
	return "Dual moving average: buy on the golden cross, exit on the death cross"
}

func (s *MACrossStrategy) Parameters() map[string]float64 {
	return map[string]float64{
		"short_period":   float64(s.shortPeriod),
		"long_period":    float64(s.longPeriod),
		"risk_per_trade": s.riskPerTrade,
	}
}

func (s *MACrossStrategy) Indicators() indicator.Spec {
	return indicator.Spec{indicator.SMA(s.shortPeriod), indicator.SMA(s.longPeriod)}
}

func (s *MACrossStrategy) Risk() RiskProfile { return s.risk }

func (s *MACrossStrategy) Evaluate(i int, series model.Series, set *indicator.Set, pos model.Position) (model.Signal, bool) {
	if i < 1 {
		return model.Signal{}, false
	}
	short, long := indicator.SMAName(s.shortPeriod), indicator.SMAName(s.longPeriod)
	cur, ok := values(set, i, short, long)
	if !ok {
		return model.Signal{}, false
	}
	prev, ok := values(set, i-1, short, long)
	if !ok {
		return model.Signal{}, false
	}
	bar := series.Bars[i]

	// Golden Cross
	if pos.IsFlat() && prev[0] <= prev[1] && cur[0] > cur[1] {
		return model.Signal{
			BarIndex:     i,
			Kind:         model.SignalEntryLong,
			Price:        bar.Close,
			SizeFraction: riskSize(s.riskPerTrade, s.risk.StopPct),
			Reason:       "golden cross",
		}, true
	}
	// Death Cross
	if pos.Direction == model.Long && prev[0] >= prev[1] && cur[0] < cur[1] {
		return model.Signal{BarIndex: i, Kind: model.SignalExit, Price: bar.Close, SizeFraction: 1, Reason: "death cross"}, true
	}
	return model.Signal{}, false
}
