package trader

import (
	"math"

	"rulebot/internal/models"
)

// ComputeMetrics summarizes a backtest. Win rate counts every ledger entry in
// its denominator; only sells carry a realized profit.
func ComputeMetrics(trades []models.BacktestTrade, curve []models.EquityPoint, initialCapital, finalCapital float64) models.BacktestMetrics {
	m := models.BacktestMetrics{TotalTrades: len(trades)}

	for _, t := range trades {
		switch {
		case t.ProfitLoss > 0:
			m.WinningTrades++
			m.TotalProfit += t.ProfitLoss
		case t.ProfitLoss < 0:
			m.LosingTrades++
			m.TotalLoss += -t.ProfitLoss
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	m.NetProfit = m.TotalProfit - m.TotalLoss
	if initialCapital != 0 {
		m.ROI = (finalCapital - initialCapital) / initialCapital * 100
	}
	m.MaxDrawdown = MaxDrawdown(curve)
	m.SharpeRatio = SharpeRatio(curve)
	return m
}

// MaxDrawdown is the largest percentage decline from a running peak.
func MaxDrawdown(curve []models.EquityPoint) float64 {
	var peak, maxDD float64
	for i, p := range curve {
		if i == 0 || p.Capital > peak {
			peak = p.Capital
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Capital) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeRatio is mean over population standard deviation of the percentage
// returns between consecutive curve points. It is not annualized.
func SharpeRatio(curve []models.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Capital
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Capital-prev)/prev*100)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stddev := math.Sqrt(variance / float64(len(returns)))
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}
