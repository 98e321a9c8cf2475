package engine

import (
	"context"
	"fmt"
	"math"

	"odin-backtester/internal/indicator"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"
	"odin-backtester/internal/strategy"

	"go.uber.org/zap"
)

// Costs are applied to every fill. Both default to zero.
type Costs struct {
	FeeRate  float64
	Slippage float64
}

// Report is the outcome of one run.
type Report struct {
	StrategyID string
	Summary    model.ResultsSummary
	Trades     []model.Trade
	Signals    int
}

type Backtester struct {
	strategy       strategy.Strategy
	initialCapital float64
	risk           strategy.RiskProfile
	costs          Costs
	logger         *zap.Logger
}

func NewBacktester(strat strategy.Strategy, initialCapital float64, costs Costs, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		strategy:       strat,
		initialCapital: initialCapital,
		risk:           strat.Risk(),
		costs:          costs,
		logger:         logger,
	}
}

// WithRisk overrides the strategy's own risk profile.
func (b *Backtester) WithRisk(risk strategy.RiskProfile) *Backtester {
	b.risk = risk
	return b
}

// Run simulates the series bar by bar. Bars are processed strictly in order;
// ctx is checked at every bar boundary and a cancelled run returns no report.
func (b *Backtester) Run(ctx context.Context, series model.Series) (*Report, error) {
	if !(b.initialCapital > 0) || math.IsInf(b.initialCapital, 0) {
		return nil, model.NewValidationError(fmt.Sprintf("initial capital must be positive, got %v", b.initialCapital))
	}
	if series.Len() == 0 {
		return nil, model.NewDataError(fmt.Sprintf("no bars for %s %s", series.Symbol, series.Timeframe), nil)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}

	set, err := indicator.Compute(ctx, series, b.strategy.Indicators())
	if err != nil {
		return nil, err
	}
	return b.RunWithIndicators(ctx, series, set)
}

// RunWithIndicators replays the series against precomputed indicators.
func (b *Backtester) RunWithIndicators(ctx context.Context, series model.Series, set *indicator.Set) (*Report, error) {
	sim := NewSimulator(b.risk, b.costs.FeeRate, b.costs.Slippage)
	eval := func(i int, pos model.Position) (model.Signal, bool) {
		return b.strategy.Evaluate(i, series, set, pos)
	}

	st := sim.Init(series, b.initialCapital)
	for i := range series.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st = sim.Step(st, series, i, eval)
	}
	st = sim.Finish(st, series)

	infrastructure.BarsProcessed.WithLabelValues(b.strategy.ID()).Add(float64(series.Len()))
	infrastructure.TradesSimulated.WithLabelValues(b.strategy.ID()).Add(float64(len(st.Trades)))

	summary := Aggregate(st.Trades, st.Curve, b.initialCapital, series.Interval)
	b.logger.Debug("backtest finished",
		zap.String("strategy", b.strategy.ID()),
		zap.String("symbol", series.Symbol),
		zap.Int("bars", series.Len()),
		zap.Int("signals", st.Signals),
		zap.Int("trades", len(st.Trades)),
		zap.Float64("total_return_pct", summary.TotalReturnPct),
	)
	return &Report{
		StrategyID: b.strategy.ID(),
		Summary:    summary,
		Trades:     st.Trades,
		Signals:    st.Signals,
	}, nil
}
