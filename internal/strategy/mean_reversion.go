package strategy

import (
	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
)

// MeanReversionStrategy buys near the lower 20-bar band while RSI is oversold
// and exits once price reverts to the middle band.
type MeanReversionStrategy struct {
	bbPeriod     int
	bbK          float64
	rsiPeriod    int
	oversold     float64
	proximity    float64
	riskPerTrade float64
	risk         RiskProfile
}

func NewMeanReversionStrategy(riskPerTrade float64) *MeanReversionStrategy {
	return &MeanReversionStrategy{
		bbPeriod:     20,
		bbK:          2,
		rsiPeriod:    14,
		oversold:     30,
		proximity:    0.02,
		riskPerTrade: riskPerTrade,
		risk:         RiskProfile{StopPct: 0.03, TakeProfitPct: 0.10, TrailingPct: 0.01, TrailArmPct: 0.02},
	}
}

func (s *MeanReversionStrategy) ID() string   { return "mean_reversion_v1" }
func (s *MeanReversionStrategy) Name() string { return "Mean Reversion v1" }
func (s *MeanReversionStrategy) Description() string {
	return "Bollinger mean reversion: buy within 2% of the lower 20-bar band with RSI<30, exit at the middle band"
}

func (s *MeanReversionStrategy) Parameters() map[string]float64 {
	return map[string]float64{
		"bb_period":      float64(s.bbPeriod),
		"bb_std":         s.bbK,
		"rsi_period":     float64(s.rsiPeriod),
		"rsi_oversold":   s.oversold,
		"band_proximity": s.proximity,
		"risk_per_trade": s.riskPerTrade,
	}
}

func (s *MeanReversionStrategy) Indicators() indicator.Spec {
	return indicator.Spec{indicator.Bollinger(s.bbPeriod, s.bbK), indicator.RSI(s.rsiPeriod)}
}

func (s *MeanReversionStrategy) Risk() RiskProfile { return s.risk }

func (s *MeanReversionStrategy) Evaluate(i int, series model.Series, set *indicator.Set, pos model.Position) (model.Signal, bool) {
	bar := series.Bars[i]

	if pos.Direction == model.Long {
		middle, ok := set.Value(indicator.MiddleName(s.bbPeriod), i)
		if ok && bar.Close >= middle {
			return model.Signal{BarIndex: i, Kind: model.SignalExit, Price: bar.Close, SizeFraction: 1, Reason: "reverted to middle band"}, true
		}
		return model.Signal{}, false
	}
	if !pos.IsFlat() {
		return model.Signal{}, false
	}

	v, ok := values(set, i, indicator.LowerName(s.bbPeriod), indicator.RSIName(s.rsiPeriod))
	if !ok {
		return model.Signal{}, false
	}
	lower, rsi := v[0], v[1]
	if bar.Close <= lower*(1+s.proximity) && rsi < s.oversold {
		return model.Signal{
			BarIndex:     i,
			Kind:         model.SignalEntryLong,
			Price:        bar.Close,
			SizeFraction: riskSize(s.riskPerTrade, s.risk.StopPct),
			Reason:       "close near lower band with rsi oversold",
		}, true
	}
	return model.Signal{}, false
}
