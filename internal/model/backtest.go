package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SignalKind string

const (
	SignalEntryLong  SignalKind = "ENTRY_LONG"
	SignalEntryShort SignalKind = "ENTRY_SHORT"
	SignalExit       SignalKind = "EXIT"
)

func (k SignalKind) IsEntry() bool {
	return k == SignalEntryLong || k == SignalEntryShort
}

// Tranche is a deferred partial entry that fills on the bar after the signal
// only if price reaches it.
type Tranche struct {
	Price        float64 `json:"price"`
	SizeFraction float64 `json:"size_fraction"`
}

// Signal 策略在某根K线上给出的意图
type Signal struct {
	BarIndex     int        `json:"bar_index"`
	Kind         SignalKind `json:"kind"`
	Price        float64    `json:"suggested_price"`
	SizeFraction float64    `json:"suggested_size_fraction"`
	Pullback     *Tranche   `json:"pullback,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type Direction string

const (
	Flat  Direction = "FLAT"
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

type PositionPhase string

const (
	PhaseFlat     PositionPhase = "FLAT"
	PhaseEntering PositionPhase = "ENTERING"
	PhaseOpen     PositionPhase = "OPEN"
)

// Position is the simulator's view of the single open position of a run.
type Position struct {
	Direction  Direction     `json:"direction"`
	Phase      PositionPhase `json:"phase"`
	EntryPrice float64       `json:"entry_price"`
	Size       float64       `json:"size"`
	Quantity   float64       `json:"quantity"`
	Notional   float64       `json:"notional"`
	EntryFee   float64       `json:"entry_fee"`
	StaticStop float64       `json:"static_stop"`
	Stop       float64       `json:"stop_price"`
	WaterMark  float64       `json:"trailing_high_water_mark"`
	TakeProfit float64       `json:"take_profit_price"`
	OpenedAt   int           `json:"opened_at_bar"`
	EntryTime  time.Time     `json:"entry_time"`
	Pending    *Tranche      `json:"pending,omitempty"`
}

func (p Position) IsFlat() bool { return p.Direction == Flat || p.Direction == "" }

// TrailingActive reports whether the ratcheted stop has overtaken the static one.
func (p Position) TrailingActive() bool {
	switch p.Direction {
	case Long:
		return p.Stop > p.StaticStop
	case Short:
		return p.Stop < p.StaticStop
	}
	return false
}

type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitSignal       ExitReason = "SIGNAL_EXIT"
	ExitEndOfSeries  ExitReason = "END_OF_SERIES"
)

// Trade 一笔完整的回测交易 (entry to full close)
type Trade struct {
	Direction       Direction  `json:"direction"`
	EntryPrice      float64    `json:"entry_price"`
	ExitPrice       float64    `json:"exit_price"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        time.Time  `json:"exit_time"`
	EntryBar        int        `json:"entry_bar"`
	ExitBar         int        `json:"exit_bar"`
	Size            float64    `json:"size"`
	Quantity        float64    `json:"quantity"`
	Fee             float64    `json:"fee"`
	PnL             float64    `json:"pnl"`
	PnLPct          float64    `json:"pnl_pct"`
	ExitReason      ExitReason `json:"exit_reason"`
	MaxFavorablePct float64    `json:"max_favorable_pct"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// ResultsSummary 回测结果报告
type ResultsSummary struct {
	InitialCapital       float64       `json:"initial_capital"`
	FinalCapital         float64       `json:"final_capital"`
	TotalPnL             float64       `json:"total_pnl"`
	TotalReturnPct       float64       `json:"total_return_pct"`
	TotalTrades          int           `json:"total_trades"`
	WinningTrades        int           `json:"winning_trades"`
	LosingTrades         int           `json:"losing_trades"`
	WinRatePct           float64       `json:"win_rate_pct"`
	MaxDrawdownPct       float64       `json:"max_drawdown_pct"`
	SharpeRatio          float64       `json:"sharpe_ratio"`
	ProfitFactor         *float64      `json:"profit_factor"`
	AvgWin               float64       `json:"avg_win"`
	AvgLoss              float64       `json:"avg_loss"`
	LargestWin           float64       `json:"largest_win"`
	LargestLoss          float64       `json:"largest_loss"`
	MaxConsecutiveWins   int           `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	EquityCurve          []EquityPoint `json:"equity_curve"`
}

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BacktestRequest is what a client submits.
type BacktestRequest struct {
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Timeframe      string          `json:"timeframe"`
}

// BacktestJob snapshots are immutable once published; the orchestrator
// replaces them wholesale on every transition.
type BacktestJob struct {
	ID             string          `json:"job_id"`
	StrategyID     string          `json:"strategy_id"`
	StrategyName   string          `json:"strategy_name"`
	Symbol         string          `json:"symbol"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Timeframe      string          `json:"timeframe"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Status         JobStatus       `json:"status"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	Result         *ResultsSummary `json:"results,omitempty"`
	Trades         []Trade         `json:"trades,omitempty"`
}

// StrategyInfo is one catalog entry.
type StrategyInfo struct {
	ID          string             `json:"strategy_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  map[string]float64 `json:"parameters"`
}
