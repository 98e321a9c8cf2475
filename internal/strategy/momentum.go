package strategy

import (
	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
)

// MomentumStrategy 动量策略: buys oversold dips inside an uptrend.
type MomentumStrategy struct {
	rsiPeriod    int
	oversold     float64
	overbought   float64
	shortPeriod  int
	longPeriod   int
	riskPerTrade float64
	risk         RiskProfile
}

func NewMomentumStrategy(riskPerTrade float64) *MomentumStrategy {
	return &MomentumStrategy{
		rsiPeriod:    14,
		oversold:     30,
		overbought:   70,
		shortPeriod:  20,
		longPeriod:   50,
		riskPerTrade: riskPerTrade,
		risk:         RiskProfile{StopPct: 0.05, TakeProfitPct: 0.15, TrailingPct: 0.02, TrailArmPct: 0.02},
	}
}

func (s *MomentumStrategy) ID() string   { return "momentum_v1" }
func (s *MomentumStrategy) Name() string { return "Momentum v1" }
func (s *MomentumStrategy) Description() string {
	return "RSI and moving-average momentum: buy RSI<30 while SMA20>SMA50, exit on RSI>70 or trend inversion"
}

func (s *MomentumStrategy) Parameters() map[string]float64 {
	return map[string]float64{
		"rsi_period":     float64(s.rsiPeriod),
		"rsi_oversold":   s.oversold,
		"rsi_overbought": s.overbought,
		"sma_short":      float64(s.shortPeriod),
		"sma_long":       float64(s.longPeriod),
		"risk_per_trade": s.riskPerTrade,
	}
}

func (s *MomentumStrategy) Indicators() indicator.Spec {
	return indicator.Spec{indicator.RSI(s.rsiPeriod), indicator.SMA(s.shortPeriod), indicator.SMA(s.longPeriod)}
}

func (s *MomentumStrategy) Risk() RiskProfile { return s.risk }

func (s *MomentumStrategy) Evaluate(i int, series model.Series, set *indicator.Set, pos model.Position) (model.Signal, bool) {
	v, ok := values(set, i,
		indicator.RSIName(s.rsiPeriod),
		indicator.SMAName(s.shortPeriod),
		indicator.SMAName(s.longPeriod))
	if !ok {
		return model.Signal{}, false
	}
	rsi, short, long := v[0], v[1], v[2]
	bar := series.Bars[i]

	if pos.IsFlat() {
		if rsi < s.oversold && short > long {
			return model.Signal{
				BarIndex:     i,
				Kind:         model.SignalEntryLong,
				Price:        bar.Close,
				SizeFraction: riskSize(s.riskPerTrade, s.risk.StopPct),
				Reason:       "rsi oversold in uptrend",
			}, true
		}
		return model.Signal{}, false
	}

	if pos.Direction == model.Long {
		switch {
		case rsi > s.overbought:
			return model.Signal{BarIndex: i, Kind: model.SignalExit, Price: bar.Close, SizeFraction: 1, Reason: "rsi overbought"}, true
		case short < long:
			return model.Signal{BarIndex: i, Kind: model.SignalExit, Price: bar.Close, SizeFraction: 1, Reason: "trend inversion"}, true
		}
	}
	return model.Signal{}, false
}
