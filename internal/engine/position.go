package engine

import (
	"math"

	"odin-backtester/internal/model"
	"odin-backtester/internal/strategy"
)

// State is the accumulator of the bar fold. It is owned by a single run.
type State struct {
	Equity   float64 // realized equity, entry fees already deducted
	Position model.Position
	Trades   []model.Trade
	Curve    []model.EquityPoint
	Signals  int
}

// Evaluator yields the strategy's intent for bar i given the position as it
// stands after the bar's stop and target checks.
type Evaluator func(i int, pos model.Position) (model.Signal, bool)

// Simulator turns intents into fills against historical bars.
type Simulator struct {
	risk     strategy.RiskProfile
	feeRate  float64
	slippage float64
}

func NewSimulator(risk strategy.RiskProfile, feeRate, slippage float64) *Simulator {
	return &Simulator{risk: risk, feeRate: feeRate, slippage: slippage}
}

// Init seeds the fold with the opening equity point.
func (s *Simulator) Init(series model.Series, initialCapital float64) State {
	st := State{
		Equity:   initialCapital,
		Position: model.Position{Direction: model.Flat, Phase: model.PhaseFlat},
	}
	if series.Len() > 0 {
		st.Curve = []model.EquityPoint{{Timestamp: series.Bars[0].OpenTime, Equity: initialCapital}}
	}
	return st
}

// Step advances the fold over bar i.
func (s *Simulator) Step(st State, series model.Series, i int, eval Evaluator) State {
	bar := series.Bars[i]
	closed := false

	if !st.Position.IsFlat() && i > st.Position.OpenedAt {
		if st.Position.Phase == model.PhaseEntering {
			var fee float64
			st.Position, fee = s.fillPullback(st.Position, bar)
			st.Equity -= fee
		}
		if price, reason, hit := s.exitLevel(st.Position, bar); hit {
			st = s.close(st, series, i, price, reason)
			closed = true
		}
	}

	// a position closed on this bar may only re-enter on a later bar
	if !closed {
		if sig, ok := eval(i, st.Position); ok {
			st.Signals++
			switch {
			case st.Position.IsFlat() && sig.Kind.IsEntry():
				st = s.open(st, series, i, sig)
			case !st.Position.IsFlat() && sig.Kind == model.SignalExit && i > st.Position.OpenedAt:
				st = s.close(st, series, i, bar.Close, model.ExitSignal)
				closed = true
			}
		}
	}

	if !closed && !st.Position.IsFlat() && i > st.Position.OpenedAt {
		st.Position = s.ratchet(st.Position, bar)
	}

	st.Curve = append(st.Curve, model.EquityPoint{
		Timestamp: series.CloseTime(i),
		Equity:    s.mark(st, bar.Close),
	})
	return st
}

// Finish liquidates any open position at the last close.
func (s *Simulator) Finish(st State, series model.Series) State {
	if st.Position.IsFlat() || series.Len() == 0 {
		return st
	}
	last := series.Len() - 1
	st = s.close(st, series, last, series.Bars[last].Close, model.ExitEndOfSeries)
	if n := len(st.Curve); n > 0 {
		st.Curve[n-1].Equity = st.Equity
	}
	return st
}

func (s *Simulator) open(st State, series model.Series, i int, sig model.Signal) State {
	frac := sig.SizeFraction
	if frac > 1 {
		frac = 1
	}
	if !(frac > 0) || !(sig.Price > 0) || !(st.Equity > 0) {
		return st
	}
	dir := model.Long
	if sig.Kind == model.SignalEntryShort {
		dir = model.Short
	}
	fill := s.slip(sig.Price, dir, true)
	notional := frac * st.Equity
	fee := notional * s.feeRate
	st.Equity -= fee

	pos := model.Position{
		Direction: dir,
		Phase:     model.PhaseOpen,
		Size:      frac,
		Quantity:  notional / fill,
		Notional:  notional,
		EntryFee:  fee,
		OpenedAt:  i,
		EntryTime: series.Bars[i].OpenTime,
	}
	if sig.Pullback != nil && sig.Pullback.SizeFraction > 0 && frac < 1 {
		t := *sig.Pullback
		if frac+t.SizeFraction > 1 {
			t.SizeFraction = 1 - frac
		}
		pos.Phase = model.PhaseEntering
		pos.Pending = &t
	}
	st.Position = s.reprice(pos, fill)
	return st
}

// fillPullback settles the pending tranche on the bar after entry. An
// unreached tranche is forfeited and the position keeps its first size.
func (s *Simulator) fillPullback(pos model.Position, bar model.Bar) (model.Position, float64) {
	t := pos.Pending
	pos.Pending = nil
	pos.Phase = model.PhaseOpen
	if t == nil {
		return pos, 0
	}
	reached := (pos.Direction == model.Long && bar.Low <= t.Price) ||
		(pos.Direction == model.Short && bar.High >= t.Price)
	if !reached {
		return pos, 0
	}
	base := pos.Notional / pos.Size
	notional := base * t.SizeFraction
	fill := s.slip(t.Price, pos.Direction, true)
	fee := notional * s.feeRate
	pos.EntryFee += fee
	pos.Quantity += notional / fill
	pos.Notional += notional
	pos.Size += t.SizeFraction
	return s.reprice(pos, pos.Notional/pos.Quantity), fee
}

// reprice sets entry-derived levels for a new size-weighted entry price.
func (s *Simulator) reprice(pos model.Position, entry float64) model.Position {
	pos.EntryPrice = entry
	pos.WaterMark = entry
	if pos.Direction == model.Long {
		pos.StaticStop = entry * (1 - s.risk.StopPct)
		pos.TakeProfit = entry * (1 + s.risk.TakeProfitPct)
	} else {
		pos.StaticStop = entry * (1 + s.risk.StopPct)
		pos.TakeProfit = entry * (1 - s.risk.TakeProfitPct)
		if pos.TakeProfit < 0 {
			pos.TakeProfit = 0
		}
	}
	pos.Stop = pos.StaticStop
	return pos
}

// exitLevel applies the fixed priority: stop first, then take-profit.
func (s *Simulator) exitLevel(pos model.Position, bar model.Bar) (float64, model.ExitReason, bool) {
	stopReason := model.ExitStopLoss
	if pos.TrailingActive() {
		stopReason = model.ExitTrailingStop
	}
	switch pos.Direction {
	case model.Long:
		if bar.Low <= pos.Stop {
			return pos.Stop, stopReason, true
		}
		if bar.High >= pos.TakeProfit {
			return pos.TakeProfit, model.ExitTakeProfit, true
		}
	case model.Short:
		if bar.High >= pos.Stop {
			return pos.Stop, stopReason, true
		}
		if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
			return pos.TakeProfit, model.ExitTakeProfit, true
		}
	}
	return 0, "", false
}

// ratchet moves the water mark and, once the move from entry has reached
// TrailArmPct, the trailing stop. The stop only ever tightens.
func (s *Simulator) ratchet(pos model.Position, bar model.Bar) model.Position {
	if s.risk.TrailingPct <= 0 {
		return pos
	}
	switch pos.Direction {
	case model.Long:
		if bar.High > pos.WaterMark {
			pos.WaterMark = bar.High
		}
		if pos.WaterMark < pos.EntryPrice*(1+s.risk.TrailArmPct) {
			return pos
		}
		if trail := pos.WaterMark * (1 - s.risk.TrailingPct); trail > pos.Stop {
			pos.Stop = trail
		}
	case model.Short:
		if bar.Low < pos.WaterMark {
			pos.WaterMark = bar.Low
		}
		if pos.WaterMark > pos.EntryPrice*(1-s.risk.TrailArmPct) {
			return pos
		}
		if trail := pos.WaterMark * (1 + s.risk.TrailingPct); trail < pos.Stop {
			pos.Stop = trail
		}
	}
	return pos
}

func (s *Simulator) close(st State, series model.Series, i int, level float64, reason model.ExitReason) State {
	pos := st.Position
	exit := s.slip(level, pos.Direction, false)
	gross := pos.Quantity * (exit - pos.EntryPrice)
	// the exit level was reached on this bar even though the mark was not ratcheted
	wm := math.Max(pos.WaterMark, level)
	favorable := (wm/pos.EntryPrice - 1) * 100
	if pos.Direction == model.Short {
		gross = -gross
		wm = math.Min(pos.WaterMark, level)
		favorable = (1 - wm/pos.EntryPrice) * 100
	}
	exitFee := pos.Quantity * exit * s.feeRate
	pnl := gross - pos.EntryFee - exitFee
	st.Equity += gross - exitFee

	st.Trades = append(st.Trades, model.Trade{
		Direction:       pos.Direction,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exit,
		EntryTime:       pos.EntryTime,
		ExitTime:        series.Bars[i].OpenTime,
		EntryBar:        pos.OpenedAt,
		ExitBar:         i,
		Size:            pos.Size,
		Quantity:        pos.Quantity,
		Fee:             pos.EntryFee + exitFee,
		PnL:             pnl,
		PnLPct:          pnl / pos.Notional * 100,
		ExitReason:      reason,
		MaxFavorablePct: favorable,
	})
	st.Position = model.Position{Direction: model.Flat, Phase: model.PhaseFlat}
	return st
}

// mark values realized equity plus the open position at price.
func (s *Simulator) mark(st State, price float64) float64 {
	pos := st.Position
	switch pos.Direction {
	case model.Long:
		return st.Equity + pos.Quantity*(price-pos.EntryPrice)
	case model.Short:
		return st.Equity + pos.Quantity*(pos.EntryPrice-price)
	}
	return st.Equity
}

// slip moves a fill price against the trader.
func (s *Simulator) slip(price float64, dir model.Direction, entering bool) float64 {
	if s.slippage == 0 {
		return price
	}
	buying := (dir == model.Long) == entering
	if buying {
		return price * (1 + s.slippage)
	}
	return price * (1 - s.slippage)
}
