// Package optimizer 在场景子集上评估策略参数，并用 TPE 搜索最优参数。
package optimizer

import (
	"fmt"
	"math"
)

// Weights 各指标在得分中的权重。
type Weights struct {
	ProfitFactor float64 `json:"profit_factor" yaml:"profit_factor"`
	Sharpe       float64 `json:"sharpe" yaml:"sharpe"`
	Sortino      float64 `json:"sortino" yaml:"sortino"`
	Drawdown     float64 `json:"drawdown" yaml:"drawdown"`
	WinRate      float64 `json:"win_rate" yaml:"win_rate"`
	Return       float64 `json:"return" yaml:"return"`
}

// Target 六项门槛与打分权重。WinRate/MaxDrawdownPct/MinTotalReturn 均为百分比。
type Target struct {
	MinProfitFactor float64 `json:"min_profit_factor" yaml:"min_profit_factor"`
	MinSharpe       float64 `json:"min_sharpe" yaml:"min_sharpe"`
	MinSortino      float64 `json:"min_sortino" yaml:"min_sortino"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MinWinRate      float64 `json:"min_win_rate" yaml:"min_win_rate"`
	MinTotalReturn  float64 `json:"min_total_return" yaml:"min_total_return"` // 严格大于
	Weights         Weights `json:"weights" yaml:"weights"`
}

func DefaultTarget() Target {
	return Target{
		MinProfitFactor: 1.2,
		MinSharpe:       1.0,
		MinSortino:      1.5,
		MaxDrawdownPct:  15,
		MinWinRate:      45,
		MinTotalReturn:  0,
		Weights: Weights{
			ProfitFactor: 0.2,
			Sharpe:       0.25,
			Sortino:      0.15,
			Drawdown:     0.2,
			WinRate:      0.1,
			Return:       0.1,
		},
	}
}

// AggregateMetrics 多个场景的平均指标。
type AggregateMetrics struct {
	ProfitFactor   float64 `json:"profit_factor"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	TotalReturn    float64 `json:"total_return"`
	TotalTrades    int     `json:"total_trades"`
	Scenarios      int     `json:"scenarios"`
	Errors         int     `json:"errors"`
}

// 超额部分按 scale 归一后封顶 1；不足部分按 2 倍惩罚，下限 -2。
const returnScale = 10.0

func component(excess, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	x := excess / scale
	if x >= 0 {
		return math.Min(x, 1)
	}
	return 2 * math.Max(x, -1)
}

// Score 加权得分；门槛全部恰好满足时为 0。
func (t Target) Score(m AggregateMetrics) float64 {
	w := t.Weights
	s := w.ProfitFactor*component(m.ProfitFactor-t.MinProfitFactor, t.MinProfitFactor) +
		w.Sharpe*component(m.Sharpe-t.MinSharpe, t.MinSharpe) +
		w.Sortino*component(m.Sortino-t.MinSortino, t.MinSortino) +
		w.Drawdown*component(t.MaxDrawdownPct-m.MaxDrawdownPct, t.MaxDrawdownPct) +
		w.WinRate*component(m.WinRate-t.MinWinRate, t.MinWinRate) +
		w.Return*component(m.TotalReturn-t.MinTotalReturn, returnScale)
	if m.TotalTrades == 0 {
		// 不交易的参数不应胜出
		s -= w.Return + w.WinRate
	}
	return s
}

// Meets 返回是否满足全部门槛以及未满足项。
func (t Target) Meets(m AggregateMetrics) (bool, []string) {
	var miss []string
	if m.ProfitFactor < t.MinProfitFactor {
		miss = append(miss, fmt.Sprintf("profit_factor %.2f < %.2f", m.ProfitFactor, t.MinProfitFactor))
	}
	if m.Sharpe < t.MinSharpe {
		miss = append(miss, fmt.Sprintf("sharpe %.2f < %.2f", m.Sharpe, t.MinSharpe))
	}
	if m.Sortino < t.MinSortino {
		miss = append(miss, fmt.Sprintf("sortino %.2f < %.2f", m.Sortino, t.MinSortino))
	}
	if m.MaxDrawdownPct > t.MaxDrawdownPct {
		miss = append(miss, fmt.Sprintf("max_drawdown_pct %.2f > %.2f", m.MaxDrawdownPct, t.MaxDrawdownPct))
	}
	if m.WinRate < t.MinWinRate {
		miss = append(miss, fmt.Sprintf("win_rate %.2f < %.2f", m.WinRate, t.MinWinRate))
	}
	if m.TotalReturn <= t.MinTotalReturn {
		miss = append(miss, fmt.Sprintf("total_return %.2f <= %.2f", m.TotalReturn, t.MinTotalReturn))
	}
	return len(miss) == 0, miss
}
