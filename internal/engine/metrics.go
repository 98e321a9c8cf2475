package engine

import (
	"math"
	"time"

	"odin-backtester/internal/model"
)

const year = 365 * 24 * time.Hour

// Aggregate computes the summary of a finished run. It is a pure function of
// the trade log and the equity curve.
func Aggregate(trades []model.Trade, curve []model.EquityPoint, initialCapital float64, interval time.Duration) model.ResultsSummary {
	final := initialCapital
	if len(curve) > 0 {
		final = curve[len(curve)-1].Equity
	}

	summary := model.ResultsSummary{
		InitialCapital: initialCapital,
		FinalCapital:   final,
		TotalPnL:       final - initialCapital,
		TotalTrades:    len(trades),
		MaxDrawdownPct: calculateMaxDrawdown(curve),
		SharpeRatio:    calculateSharpeRatio(calculateReturns(curve), periodsPerYear(interval)),
		EquityCurve:    curve,
	}
	if initialCapital != 0 {
		summary.TotalReturnPct = (final/initialCapital - 1) * 100
	}

	var sumWin, sumLoss float64
	var streakWin, streakLoss int
	for _, t := range trades {
		if t.PnL > 0 {
			summary.WinningTrades++
			sumWin += t.PnL
			summary.LargestWin = math.Max(summary.LargestWin, t.PnL)
			streakWin++
			streakLoss = 0
		} else {
			summary.LosingTrades++
			sumLoss += t.PnL
			summary.LargestLoss = math.Min(summary.LargestLoss, t.PnL)
			streakLoss++
			streakWin = 0
		}
		if streakWin > summary.MaxConsecutiveWins {
			summary.MaxConsecutiveWins = streakWin
		}
		if streakLoss > summary.MaxConsecutiveLosses {
			summary.MaxConsecutiveLosses = streakLoss
		}
	}

	if summary.TotalTrades > 0 {
		summary.WinRatePct = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100
	}
	if summary.WinningTrades > 0 {
		summary.AvgWin = sumWin / float64(summary.WinningTrades)
	}
	if summary.LosingTrades > 0 {
		summary.AvgLoss = sumLoss / float64(summary.LosingTrades)
	}
	// undefined without losses
	if sumLoss < 0 {
		pf := sumWin / math.Abs(sumLoss)
		summary.ProfitFactor = &pf
	}
	return summary
}

func calculateReturns(curve []model.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	return returns
}

// calculateMaxDrawdown is the largest decline from a running peak, in percent.
func calculateMaxDrawdown(curve []model.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateSharpeRatio annualises mean/stddev of period returns; zero when
// the deviation is zero.
func calculateSharpeRatio(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	avg := sum / float64(len(returns))

	var sumSqDiff float64
	for _, r := range returns {
		d := r - avg
		sumSqDiff += d * d
	}
	stdDev := math.Sqrt(sumSqDiff / float64(len(returns)))
	if stdDev == 0 || math.IsNaN(stdDev) {
		return 0
	}
	return avg / stdDev * math.Sqrt(periods)
}

func periodsPerYear(interval time.Duration) float64 {
	if interval <= 0 {
		return 1
	}
	return float64(year) / float64(interval)
}
