package backtest

import (
	"math"
	"time"

	"perp-mm-lab/market"
)

// MaxProfitFactor 没有亏损交易但有盈利时 profit factor 的上限值。
const MaxProfitFactor = 100.0

// metricInputs 计算指标所需的原始数据。
type metricInputs struct {
	initial     float64
	final       float64
	totalPnL    float64
	grossPnL    float64
	trades      []ClosedTrade
	equity      []EquityPoint
	tradingFees float64
	fundingFees float64
	slippage    float64
	barInterval time.Duration
}

// computeMetrics 所有比率都做了除零保护，空输入返回全零指标。
func computeMetrics(in metricInputs) Metrics {
	m := Metrics{
		TotalTrades:      len(in.trades),
		TotalPnL:         in.totalPnL,
		GrossPnL:         in.grossPnL,
		FinalBalance:     in.final,
		TotalTradingFees: in.tradingFees,
		TotalFundingFees: in.fundingFees,
		TotalSlippage:    in.slippage,
		TotalFees:        in.tradingFees + in.fundingFees,
		Trades:           in.trades,
		EquityCurve:      in.equity,
	}
	if m.Trades == nil {
		m.Trades = []ClosedTrade{}
	}
	if m.EquityCurve == nil {
		m.EquityCurve = []EquityPoint{}
	}

	grossProfit, grossLoss := 0.0, 0.0
	for _, t := range in.trades {
		switch {
		case t.NetPnL > 0:
			m.WinningTrades++
			grossProfit += t.NetPnL
		case t.NetPnL < 0:
			m.LosingTrades++
			grossLoss += -t.NetPnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = math.Min(grossProfit/grossLoss, MaxProfitFactor)
	case grossProfit > 0:
		m.ProfitFactor = MaxProfitFactor
	}

	if in.initial > 0 {
		m.TotalPnLPct = in.totalPnL / in.initial * 100
	}
	if in.grossPnL != 0 {
		m.FeeImpactPct = m.TotalFees / math.Abs(in.grossPnL) * 100
	}

	returns := equityReturns(in.equity)
	annual := math.Sqrt(periodsPerYear(in.barInterval))
	m.SharpeRatio = sharpe(returns) * annual
	if m.LosingTrades == 0 {
		m.SortinoRatio = m.SharpeRatio
	} else {
		m.SortinoRatio = sortino(returns) * annual
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(in.equity)
	return m
}

// equityReturns 逐点简单收益率，跳过非正权益。
func equityReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func sharpe(returns []float64) float64 {
	sd := market.StdDev(returns)
	if sd == 0 {
		return 0
	}
	return market.Mean(returns) / sd
}

// sortino 下行偏差为 0 时退化为 Sharpe。
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	ss := 0.0
	for _, r := range returns {
		if r < 0 {
			ss += r * r
		}
	}
	dd := math.Sqrt(ss / float64(len(returns)))
	if dd == 0 {
		return sharpe(returns)
	}
	return market.Mean(returns) / dd
}

// maxDrawdown 基于运行峰值的最大回撤（绝对值与百分比，百分比截断在 [0,100]）。
func maxDrawdown(curve []EquityPoint) (abs float64, pct float64) {
	peak := math.Inf(-1)
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > abs {
			abs = dd
		}
		if peak > 0 {
			if v := dd / peak * 100; v > pct {
				pct = v
			}
		}
	}
	if pct > 100 {
		pct = 100
	}
	return abs, pct
}

// periodsPerYear 按K线周期换算年化因子，默认小时线。
func periodsPerYear(interval time.Duration) float64 {
	if interval <= 0 {
		interval = time.Hour
	}
	return float64(365*24*time.Hour) / float64(interval)
}
