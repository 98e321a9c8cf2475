// replay runs one backtest against Parquet bars and prints the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"odin-backtester/internal/engine"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"
	"odin-backtester/internal/processor"
	"odin-backtester/internal/storage"
	"odin-backtester/internal/strategy"

	"go.uber.org/zap"
)

func main() {
	var (
		dir        string
		symbol     string
		tf         string
		sourceTF   string
		fromStr    string
		toStr      string
		strategyID string
		capital    float64
		feeRate    float64
		slippage   float64
		withTrades bool
		logLevel   string
	)

	flag.StringVar(&dir, "dir", "./data", "parquet root (<dir>/<SYMBOL>/<tf>.parquet)")
	flag.StringVar(&symbol, "symbol", "BTCUSDT", "symbol")
	flag.StringVar(&tf, "tf", "1h", "timeframe to simulate")
	flag.StringVar(&sourceTF, "source-tf", "", "stored timeframe, defaults to -tf")
	flag.StringVar(&fromStr, "from", "", "start date (YYYY-MM-DD)")
	flag.StringVar(&toStr, "to", "", "end date (YYYY-MM-DD)")
	flag.StringVar(&strategyID, "strategy", "bollinger_breakout_v1", "strategy id")
	flag.Float64Var(&capital, "capital", 10000, "initial capital")
	flag.Float64Var(&feeRate, "fee", 0, "fee rate per fill")
	flag.Float64Var(&slippage, "slippage", 0, "slippage per fill")
	flag.BoolVar(&withTrades, "trades", false, "include the trade log")
	flag.StringVar(&logLevel, "log-level", "warn", "log level")
	flag.Parse()

	infrastructure.Init(logLevel)
	logger := infrastructure.Logger
	defer logger.Sync()

	if fromStr == "" || toStr == "" {
		fmt.Fprintln(os.Stderr, "error: -from and -to are required (YYYY-MM-DD)")
		os.Exit(1)
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -from: %v\n", err)
		os.Exit(1)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -to: %v\n", err)
		os.Exit(1)
	}
	if !to.After(from) {
		fmt.Fprintln(os.Stderr, "error: -to must be after -from")
		os.Exit(1)
	}
	if sourceTF == "" {
		sourceTF = tf
	}

	strat, err := strategy.NewStrategy(strategyID, strategy.DefaultOptions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -strategy: %v\n", err)
		os.Exit(1)
	}

	src, err := processor.NewResamplingSource(storage.NewParquetSource(dir), sourceTF, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -source-tf: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	symbol = model.NormalizeSymbol(symbol)
	series, err := engine.LoadSeries(ctx, src, symbol, tf, from.UTC(), to.UTC())
	if err != nil {
		logger.Fatal("failed to load bars", zap.String("symbol", symbol), zap.Error(err))
	}

	report, err := engine.NewBacktester(strat, capital, engine.Costs{FeeRate: feeRate, Slippage: slippage}, logger).Run(ctx, series)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	out := struct {
		StrategyID string               `json:"strategy_id"`
		Symbol     string               `json:"symbol"`
		Timeframe  string               `json:"timeframe"`
		Bars       int                  `json:"bars"`
		Signals    int                  `json:"signals"`
		Summary    model.ResultsSummary `json:"results"`
		Trades     []model.Trade        `json:"trades,omitempty"`
	}{
		StrategyID: report.StrategyID,
		Symbol:     symbol,
		Timeframe:  tf,
		Bars:       series.Len(),
		Signals:    report.Signals,
		Summary:    report.Summary,
	}
	if withTrades {
		out.Trades = report.Trades
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal("failed to write report", zap.Error(err))
	}
}
