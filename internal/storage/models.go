package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"odin-backtester/internal/model"

	"github.com/shopspring/decimal"
)

// BacktestJobModel 回测任务数据库模型
type BacktestJobModel struct {
	ID             string          `gorm:"column:id;type:varchar(36);primaryKey"`
	StrategyID     string          `gorm:"column:strategy_id;type:varchar(64);index;not null"`
	StrategyName   string          `gorm:"column:strategy_name;type:varchar(128)"`
	Symbol         string          `gorm:"column:symbol;type:varchar(32);not null"`
	Timeframe      string          `gorm:"column:timeframe;type:varchar(8);not null"`
	StartDate      time.Time       `gorm:"column:start_date"`
	EndDate        time.Time       `gorm:"column:end_date"`
	InitialCapital decimal.Decimal `gorm:"column:initial_capital;type:decimal(32,8)"`
	Status         string          `gorm:"column:status;type:varchar(16);index"`
	Error          string          `gorm:"column:error;type:text"`
	ErrorKind      string          `gorm:"column:error_kind;type:varchar(32)"`
	Summary        string          `gorm:"column:summary;type:text"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
	StartedAt      *time.Time      `gorm:"column:started_at"`
	FinishedAt     *time.Time      `gorm:"column:finished_at"`
}

func (BacktestJobModel) TableName() string { return "backtest_jobs" }

// TradeLogModel 交易日志, shared with live trading through is_backtest.
type TradeLogModel struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"`
	JobID           string          `gorm:"column:job_id;type:varchar(36);index;not null"`
	StrategyID      string          `gorm:"column:strategy_id;type:varchar(64)"`
	Symbol          string          `gorm:"column:symbol;type:varchar(32)"`
	Direction       string          `gorm:"column:direction;type:varchar(8)"`
	EntryPrice      decimal.Decimal `gorm:"column:entry_price;type:decimal(32,8)"`
	ExitPrice       decimal.Decimal `gorm:"column:exit_price;type:decimal(32,8)"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:decimal(32,12)"`
	Size            float64         `gorm:"column:size_fraction"`
	Fee             decimal.Decimal `gorm:"column:fee;type:decimal(32,8)"`
	PnL             decimal.Decimal `gorm:"column:pnl;type:decimal(32,8)"`
	PnLPct          float64         `gorm:"column:pnl_pct"`
	MaxFavorablePct float64         `gorm:"column:max_favorable_pct"`
	ExitReason      string          `gorm:"column:exit_reason;type:varchar(16)"`
	EntryBar        int             `gorm:"column:entry_bar"`
	ExitBar         int             `gorm:"column:exit_bar"`
	EntryTime       time.Time       `gorm:"column:entry_time"`
	ExitTime        time.Time       `gorm:"column:exit_time"`
	IsBacktest      bool            `gorm:"column:is_backtest;default:true"`
}

func (TradeLogModel) TableName() string { return "trade_logs" }

func toJobModel(j model.BacktestJob) (*BacktestJobModel, error) {
	m := &BacktestJobModel{
		ID:             j.ID,
		StrategyID:     j.StrategyID,
		StrategyName:   j.StrategyName,
		Symbol:         j.Symbol,
		Timeframe:      j.Timeframe,
		StartDate:      j.StartDate,
		EndDate:        j.EndDate,
		InitialCapital: j.InitialCapital,
		Status:         string(j.Status),
		Error:          j.Error,
		ErrorKind:      string(j.ErrorKind),
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
	}
	if j.Result != nil {
		data, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
		}
		m.Summary = string(data)
	}
	return m, nil
}

func toJob(m *BacktestJobModel, trades []TradeLogModel) (model.BacktestJob, error) {
	j := model.BacktestJob{
		ID:             m.ID,
		StrategyID:     m.StrategyID,
		StrategyName:   m.StrategyName,
		Symbol:         m.Symbol,
		Timeframe:      m.Timeframe,
		StartDate:      m.StartDate.UTC(),
		EndDate:        m.EndDate.UTC(),
		InitialCapital: m.InitialCapital,
		Status:         model.JobStatus(m.Status),
		Error:          m.Error,
		ErrorKind:      model.ErrorKind(m.ErrorKind),
		CreatedAt:      m.CreatedAt.UTC(),
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
	}
	if m.Summary != "" {
		var summary model.ResultsSummary
		if err := json.Unmarshal([]byte(m.Summary), &summary); err != nil {
			return j, fmt.Errorf("failed to unmarshal results: %w", err)
		}
		j.Result = &summary
	}
	for _, t := range trades {
		j.Trades = append(j.Trades, toTrade(t))
	}
	return j, nil
}

func toTradeLog(j model.BacktestJob, t model.Trade) TradeLogModel {
	return TradeLogModel{
		JobID:           j.ID,
		StrategyID:      j.StrategyID,
		Symbol:          j.Symbol,
		Direction:       string(t.Direction),
		EntryPrice:      decimal.NewFromFloat(t.EntryPrice),
		ExitPrice:       decimal.NewFromFloat(t.ExitPrice),
		Quantity:        decimal.NewFromFloat(t.Quantity),
		Size:            t.Size,
		Fee:             decimal.NewFromFloat(t.Fee),
		PnL:             decimal.NewFromFloat(t.PnL),
		PnLPct:          t.PnLPct,
		MaxFavorablePct: t.MaxFavorablePct,
		ExitReason:      string(t.ExitReason),
		EntryBar:        t.EntryBar,
		ExitBar:         t.ExitBar,
		EntryTime:       t.EntryTime,
		ExitTime:        t.ExitTime,
		IsBacktest:      true,
	}
}

func toTrade(m TradeLogModel) model.Trade {
	return model.Trade{
		Direction:       model.Direction(m.Direction),
		EntryPrice:      m.EntryPrice.InexactFloat64(),
		ExitPrice:       m.ExitPrice.InexactFloat64(),
		EntryTime:       m.EntryTime.UTC(),
		ExitTime:        m.ExitTime.UTC(),
		EntryBar:        m.EntryBar,
		ExitBar:         m.ExitBar,
		Size:            m.Size,
		Quantity:        m.Quantity.InexactFloat64(),
		Fee:             m.Fee.InexactFloat64(),
		PnL:             m.PnL.InexactFloat64(),
		PnLPct:          m.PnLPct,
		ExitReason:      model.ExitReason(m.ExitReason),
		MaxFavorablePct: m.MaxFavorablePct,
	}
}
