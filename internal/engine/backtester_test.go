package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"odin-backtester/internal/indicator"
	"odin-backtester/internal/model"
	"odin-backtester/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// scripted emits fixed signals at fixed bars.
type scripted struct {
	risk    strategy.RiskProfile
	signals map[int]model.Signal
}

func (s *scripted) ID() string                     { return "scripted" }
func (s *scripted) Name() string                   { return "scripted" }
func (s *scripted) Description() string            { return "" }
func (s *scripted) Parameters() map[string]float64 { return nil }
func (s *scripted) Indicators() indicator.Spec     { return nil }
func (s *scripted) Risk() strategy.RiskProfile     { return s.risk }
func (s *scripted) Evaluate(i int, _ model.Series, _ *indicator.Set, _ model.Position) (model.Signal, bool) {
	sig, ok := s.signals[i]
	return sig, ok
}

func bar(i int, o, h, l, c float64) model.Bar {
	return model.Bar{OpenTime: t0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func flat(i int, p float64) model.Bar { return bar(i, p, p, p, p) }

func hourly(bars ...model.Bar) model.Series {
	return model.Series{Symbol: "BTCUSDT", Timeframe: "1h", Interval: time.Hour, Bars: bars}
}

func wave(n int) model.Series {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/6) + 3*math.Sin(float64(i)/1.7)
		o := c - math.Cos(float64(i))
		bars[i] = bar(i, o, math.Max(o, c)+1, math.Min(o, c)-1, c)
	}
	return hourly(bars...)
}

func longAt(i int, price, size float64) model.Signal {
	return model.Signal{BarIndex: i, Kind: model.SignalEntryLong, Price: price, SizeFraction: size}
}

func run(t *testing.T, strat strategy.Strategy, series model.Series) *Report {
	t.Helper()
	report, err := NewBacktester(strat, 1000, Costs{}, zap.NewNop()).Run(context.Background(), series)
	require.NoError(t, err)
	return report
}

func TestBacktester_FlatSeriesNoTrades(t *testing.T) {
	bars := make([]model.Bar, 100)
	for i := range bars {
		bars[i] = flat(i, 100)
	}
	series := hourly(bars...)

	for _, strat := range []strategy.Strategy{
		strategy.NewBollingerBreakoutStrategy(),
		strategy.NewMomentumStrategy(0.05),
		strategy.NewMeanReversionStrategy(0.05),
	} {
		t.Run(strat.ID(), func(t *testing.T) {
			report := run(t, strat, series)
			assert.Empty(t, report.Trades)
			assert.Equal(t, 0.0, report.Summary.TotalReturnPct)
			assert.Equal(t, 1000.0, report.Summary.FinalCapital)
			assert.Nil(t, report.Summary.ProfitFactor)
		})
	}
}

func TestBacktester_BreakoutStopLoss(t *testing.T) {
	const n = 60
	bars := make([]model.Bar, n)
	for i := 0; i < 50; i++ {
		bars[i] = flat(i, 100)
	}
	bars[50] = bar(50, 95, 130, 94, 128)
	// pullback at 127.36 is not reached
	bars[51] = bar(51, 128, 128.5, 127.8, 128)
	bars[52] = bar(52, 127, 127, 120, 121)
	for i := 53; i < n; i++ {
		bars[i] = flat(i, 121)
	}
	series := hourly(bars...)

	constant := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	set := indicator.NewSet(n, map[string][]float64{
		"bb20_lower": constant(96),
		"bb20_upper": constant(110),
		"bb80_upper": constant(125),
	})

	bt := NewBacktester(strategy.NewBollingerBreakoutStrategy(), 1000, Costs{}, zap.NewNop())
	report, err := bt.RunWithIndicators(context.Background(), series, set)
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, 50, tr.EntryBar)
	assert.Equal(t, 52, tr.ExitBar)
	assert.InDelta(t, 128.0, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 128*0.97, tr.ExitPrice, 1e-9)
	assert.InDelta(t, -3.0, tr.PnLPct, 1e-9)
	assert.InDelta(t, 0.15, tr.Size, 1e-12)
	assert.Equal(t, 1, report.Summary.LosingTrades)
}

func TestBacktester_TrailingStop(t *testing.T) {
	strat := &scripted{
		risk:    strategy.DefaultRisk,
		signals: map[int]model.Signal{1: longAt(1, 100, 1)},
	}
	series := hourly(
		flat(0, 100),
		flat(1, 100),
		bar(2, 100, 150, 100, 149),
		bar(3, 149, 149, 147, 148),
		flat(4, 148),
	)

	report := run(t, strat, series)
	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.ExitTrailingStop, tr.ExitReason)
	assert.Equal(t, 3, tr.ExitBar)
	assert.InDelta(t, 147.75, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 50.0, tr.MaxFavorablePct, 1e-9)
	assert.InDelta(t, 10*47.75, tr.PnL, 1e-6)
}

func TestBacktester_TakeProfitAfterStop(t *testing.T) {
	strat := &scripted{
		risk:    strategy.RiskProfile{StopPct: 0.03, TakeProfitPct: 0.05},
		signals: map[int]model.Signal{0: longAt(0, 100, 1)},
	}
	// both levels inside one bar: the stop wins
	series := hourly(flat(0, 100), bar(1, 100, 106, 96, 101), flat(2, 101))
	report := run(t, strat, series)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitStopLoss, report.Trades[0].ExitReason)
	assert.InDelta(t, 97.0, report.Trades[0].ExitPrice, 1e-9)

	series = hourly(flat(0, 100), bar(1, 100, 106, 98, 101), flat(2, 101))
	report = run(t, strat, series)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, model.ExitTakeProfit, report.Trades[0].ExitReason)
	assert.InDelta(t, 105.0, report.Trades[0].ExitPrice, 1e-9)
}

func TestBacktester_ShortStopLoss(t *testing.T) {
	strat := &scripted{
		risk: strategy.DefaultRisk,
		signals: map[int]model.Signal{1: {
			BarIndex: 1, Kind: model.SignalEntryShort, Price: 100, SizeFraction: 0.5,
		}},
	}
	series := hourly(flat(0, 100), flat(1, 100), bar(2, 101, 103.5, 100.5, 103), flat(3, 103))

	report := run(t, strat, series)
	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, model.Short, tr.Direction)
	assert.Equal(t, model.ExitStopLoss, tr.ExitReason)
	assert.InDelta(t, 103.0, tr.ExitPrice, 1e-9)
	assert.InDelta(t, -3.0, tr.PnLPct, 1e-9)
	assert.InDelta(t, 1000-15.0, report.Summary.FinalCapital, 1e-9)
}

func TestBacktester_SignalExitAndReentry(t *testing.T) {
	strat := &scripted{
		risk: strategy.RiskProfile{StopPct: 0.5, TakeProfitPct: 5},
		signals: map[int]model.Signal{
			0: longAt(0, 100, 1),
			2: {BarIndex: 2, Kind: model.SignalExit, Price: 110},
			3: longAt(3, 110, 1),
		},
	}
	series := hourly(flat(0, 100), flat(1, 105), flat(2, 110), flat(3, 110), flat(4, 99))

	report := run(t, strat, series)
	require.Len(t, report.Trades, 2)
	assert.Equal(t, model.ExitSignal, report.Trades[0].ExitReason)
	assert.InDelta(t, 100.0, report.Trades[0].PnL, 1e-9)
	assert.Equal(t, model.ExitEndOfSeries, report.Trades[1].ExitReason)
	assert.InDelta(t, 99.0, report.Trades[1].ExitPrice, 1e-9)
	assert.Equal(t, 3, report.Signals)

	last := report.Summary.EquityCurve[len(report.Summary.EquityCurve)-1]
	assert.InDelta(t, report.Summary.FinalCapital, last.Equity, 1e-9)
	assert.InDelta(t, 1100*0.9, report.Summary.FinalCapital, 1e-9)
}

func TestBacktester_PullbackTranche(t *testing.T) {
	entry := model.Signal{
		BarIndex: 0, Kind: model.SignalEntryLong, Price: 100, SizeFraction: 0.15,
		Pullback: &model.Tranche{Price: 99.5, SizeFraction: 0.15},
	}
	strat := &scripted{
		risk:    strategy.RiskProfile{StopPct: 0.5, TakeProfitPct: 5},
		signals: map[int]model.Signal{0: entry},
	}

	t.Run("filled", func(t *testing.T) {
		report := run(t, strat, hourly(flat(0, 100), bar(1, 100, 100, 99, 100), flat(2, 100)))
		require.Len(t, report.Trades, 1)
		tr := report.Trades[0]
		assert.InDelta(t, 0.30, tr.Size, 1e-12)
		want := 300 / (150/100.0 + 150/99.5)
		assert.InDelta(t, want, tr.EntryPrice, 1e-9)
		assert.Greater(t, tr.PnL, 0.0)
	})

	t.Run("forfeited", func(t *testing.T) {
		report := run(t, strat, hourly(flat(0, 100), bar(1, 100, 101, 99.8, 100), flat(2, 100)))
		require.Len(t, report.Trades, 1)
		tr := report.Trades[0]
		assert.InDelta(t, 0.15, tr.Size, 1e-12)
		assert.InDelta(t, 100.0, tr.EntryPrice, 1e-9)
		assert.InDelta(t, 0.0, tr.PnL, 1e-9)
	})
}

func TestBacktester_FeesMakeBreakevenLose(t *testing.T) {
	strat := &scripted{
		risk:    strategy.RiskProfile{StopPct: 0.5, TakeProfitPct: 5},
		signals: map[int]model.Signal{0: longAt(0, 100, 1)},
	}
	bt := NewBacktester(strat, 1000, Costs{FeeRate: 0.001}, zap.NewNop())
	report, err := bt.Run(context.Background(), hourly(flat(0, 100), flat(1, 100)))
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	assert.InDelta(t, -2.0, report.Trades[0].PnL, 1e-9)
	assert.InDelta(t, 998.0, report.Summary.FinalCapital, 1e-9)
	assert.Equal(t, 1, report.Summary.LosingTrades)
}

func TestBacktester_Idempotent(t *testing.T) {
	series := wave(400)
	for _, strat := range []strategy.Strategy{
		strategy.NewMomentumStrategy(0.05),
		strategy.NewMeanReversionStrategy(0.05),
		strategy.NewMACrossStrategy(5, 20, 0.05),
	} {
		a := run(t, strat, series)
		b := run(t, strat, series)
		assert.Equal(t, a, b, strat.ID())
	}
}

func TestBacktester_EquityCurveConsistency(t *testing.T) {
	series := wave(300)
	report := run(t, strategy.NewMACrossStrategy(5, 20, 0.05), series)
	s := report.Summary

	require.Len(t, s.EquityCurve, series.Len()+1)
	assert.Equal(t, 1000.0, s.EquityCurve[0].Equity)
	assert.Equal(t, series.Bars[0].OpenTime, s.EquityCurve[0].Timestamp)
	for i := 1; i < len(s.EquityCurve); i++ {
		assert.False(t, s.EquityCurve[i].Timestamp.Before(s.EquityCurve[i-1].Timestamp))
	}
	assert.Equal(t, s.TotalTrades, s.WinningTrades+s.LosingTrades)
	assert.Equal(t, len(report.Trades), s.TotalTrades)
	assert.GreaterOrEqual(t, s.MaxDrawdownPct, 0.0)

	var pnl float64
	for _, tr := range report.Trades {
		pnl += tr.PnL
		assert.Less(t, tr.EntryBar, tr.ExitBar+1)
	}
	assert.InDelta(t, s.TotalPnL, pnl, 1e-6)
}

func TestSimulator_StopNeverLoosens(t *testing.T) {
	sim := NewSimulator(strategy.RiskProfile{StopPct: 0.05, TakeProfitPct: 10, TrailingPct: 0.02, TrailArmPct: 0.01}, 0, 0)
	series := wave(200)
	opened := false
	eval := func(i int, pos model.Position) (model.Signal, bool) {
		if !opened && pos.IsFlat() {
			opened = true
			return longAt(i, series.Bars[i].Close, 1), true
		}
		return model.Signal{}, false
	}

	st := sim.Init(series, 1000)
	prev := math.Inf(-1)
	for i := range series.Bars {
		st = sim.Step(st, series, i, eval)
		if st.Position.IsFlat() {
			break
		}
		assert.GreaterOrEqual(t, st.Position.Stop, prev, "bar %d", i)
		prev = st.Position.Stop
	}
}

func TestBacktester_Errors(t *testing.T) {
	strat := &scripted{risk: strategy.DefaultRisk}

	_, err := NewBacktester(strat, 0, Costs{}, nil).Run(context.Background(), hourly(flat(0, 1)))
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = NewBacktester(strat, 1000, Costs{}, nil).Run(context.Background(), hourly())
	assert.Equal(t, model.KindData, model.KindOf(err))

	_, err = NewBacktester(strat, 1000, Costs{}, nil).Run(context.Background(), hourly(flat(1, 1), flat(0, 1)))
	assert.Equal(t, model.KindData, model.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewBacktester(strat, 1000, Costs{}, nil).Run(ctx, hourly(flat(0, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate_ProfitFactor(t *testing.T) {
	trades := []model.Trade{{PnL: 150}, {PnL: -80}, {PnL: 150}, {PnL: -80}}
	curve := []model.EquityPoint{
		{Timestamp: t0, Equity: 1000},
		{Timestamp: t0.Add(time.Hour), Equity: 1150},
		{Timestamp: t0.Add(2 * time.Hour), Equity: 1070},
		{Timestamp: t0.Add(3 * time.Hour), Equity: 1220},
		{Timestamp: t0.Add(4 * time.Hour), Equity: 1140},
	}
	s := Aggregate(trades, curve, 1000, time.Hour)

	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 50.0, s.WinRatePct)
	require.NotNil(t, s.ProfitFactor)
	assert.InDelta(t, 1.875, *s.ProfitFactor, 1e-12)
	assert.Equal(t, 150.0, s.AvgWin)
	assert.Equal(t, -80.0, s.AvgLoss)
	assert.Equal(t, 150.0, s.LargestWin)
	assert.Equal(t, -80.0, s.LargestLoss)
	assert.Equal(t, 1, s.MaxConsecutiveWins)
	assert.Equal(t, 1, s.MaxConsecutiveLosses)
	assert.InDelta(t, 14.0, s.TotalReturnPct, 1e-9)
	assert.InDelta(t, 80.0/1150*100, s.MaxDrawdownPct, 1e-9)
}

func TestAggregate_NoLosses(t *testing.T) {
	s := Aggregate([]model.Trade{{PnL: 10}, {PnL: 5}}, nil, 100, time.Hour)
	assert.Nil(t, s.ProfitFactor)
	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 100.0, s.WinRatePct)
	assert.Equal(t, 100.0, s.FinalCapital)
}

func TestCalculateSharpeRatio(t *testing.T) {
	assert.Equal(t, 0.0, calculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 8760))
	assert.Equal(t, 0.0, calculateSharpeRatio([]float64{0.01}, 8760))

	// mean 0.01, population deviation 0.01
	got := calculateSharpeRatio([]float64{0, 0.02}, 365)
	assert.InDelta(t, math.Sqrt(365), got, 1e-9)
	assert.InDelta(t, 8760.0, periodsPerYear(time.Hour), 1e-9)
}

func TestBacktester_SingleBarTakeProfitExcursion(t *testing.T) {
	tests := []struct {
		name  string
		entry model.Signal
		exit  model.Bar
		price float64
	}{
		{"long", longAt(0, 100, 1), bar(1, 100, 200, 100, 180), 150},
		{"short", model.Signal{BarIndex: 0, Kind: model.SignalEntryShort, Price: 100, SizeFraction: 1}, bar(1, 100, 100, 40, 60), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strat := &scripted{
				risk:    strategy.RiskProfile{StopPct: 0.03, TakeProfitPct: 0.5, TrailingPct: 0.015, TrailArmPct: 0.02},
				signals: map[int]model.Signal{0: tt.entry},
			}
			report := run(t, strat, hourly(flat(0, 100), tt.exit, flat(2, tt.exit.Close)))
			require.Len(t, report.Trades, 1)
			tr := report.Trades[0]
			assert.Equal(t, model.ExitTakeProfit, tr.ExitReason)
			assert.InDelta(t, tt.price, tr.ExitPrice, 1e-9)
			assert.InDelta(t, 50.0, tr.PnLPct, 1e-9)
			assert.InDelta(t, 50.0, tr.MaxFavorablePct, 1e-9)
		})
	}
}

func TestBacktester_ShortSeriesNoSignals(t *testing.T) {
	tests := []struct {
		strat strategy.Strategy
		bars  int
	}{
		{strategy.NewBollingerBreakoutStrategy(), 30},
		{strategy.NewMomentumStrategy(0.05), 30},
		{strategy.NewMeanReversionStrategy(0.05), 19},
		{strategy.NewMACrossStrategy(20, 50, 0.05), 30},
	}
	for _, tt := range tests {
		t.Run(tt.strat.ID(), func(t *testing.T) {
			bt := NewBacktester(tt.strat, 1000, Costs{}, zap.NewNop())
			report, err := bt.Run(context.Background(), wave(tt.bars))
			require.NoError(t, err)
			assert.Equal(t, 0, report.Signals)
			assert.Empty(t, report.Trades)
			assert.Equal(t, 0.0, report.Summary.TotalReturnPct)
			assert.Len(t, report.Summary.EquityCurve, tt.bars+1)
		})
	}
}

func TestBacktester_PullbackTrancheSlippage(t *testing.T) {
	strat := &scripted{
		risk: strategy.RiskProfile{StopPct: 0.5, TakeProfitPct: 5},
		signals: map[int]model.Signal{0: {
			BarIndex: 0, Kind: model.SignalEntryLong, Price: 100, SizeFraction: 0.15,
			Pullback: &model.Tranche{Price: 99.5, SizeFraction: 0.15},
		}},
	}
	bt := NewBacktester(strat, 1000, Costs{Slippage: 0.01}, zap.NewNop())
	report, err := bt.Run(context.Background(), hourly(flat(0, 100), bar(1, 100, 100, 99, 100), flat(2, 100)))
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.InDelta(t, 0.30, tr.Size, 1e-12)
	want := 300 / (150/101.0 + 150/(99.5*1.01))
	assert.InDelta(t, want, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 150/101.0+150/(99.5*1.01), tr.Quantity, 1e-9)
	assert.InDelta(t, 99.0, tr.ExitPrice, 1e-9)
}
