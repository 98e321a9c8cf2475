package strategy

import (
	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
)

// RiskProfile holds the per-strategy exit parameters, all as fractions.
type RiskProfile struct {
	StopPct       float64 `json:"stop_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	TrailingPct   float64 `json:"trailing_pct"`
	// TrailArmPct is the favourable move from entry before the trailing
	// stop starts to ratchet.
	TrailArmPct float64 `json:"trail_arm_pct"`
}

// DefaultRisk is used by the simulator when a strategy does not override it.
var DefaultRisk = RiskProfile{StopPct: 0.03, TakeProfitPct: 2.00, TrailingPct: 0.015, TrailArmPct: 0.02}

// Strategy evaluates exactly one bar at a time. Implementations must be pure
// functions of their arguments so that a run can be replayed bar by bar.
type Strategy interface {
	ID() string
	Name() string
	Description() string
	Parameters() map[string]float64
	Indicators() indicator.Spec
	Risk() RiskProfile
	Evaluate(i int, series model.Series, set *indicator.Set, pos model.Position) (model.Signal, bool)
}

// values fetches several indicators at bar i; ok is false if any is undefined.
func values(set *indicator.Set, i int, names ...string) ([]float64, bool) {
	out := make([]float64, len(names))
	for k, n := range names {
		v, ok := set.Value(n, i)
		if !ok {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// riskSize converts a per-trade risk budget into an equity fraction.
func riskSize(riskPerTrade, stopPct float64) float64 {
	if stopPct <= 0 || riskPerTrade <= 0 {
		return 1
	}
	size := riskPerTrade / stopPct
	if size > 1 {
		return 1
	}
	return size
}
