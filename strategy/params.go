// Package strategy 方向性动量策略与风险叠加层，输出 backtest.StrategyFunc。
package strategy

import (
	"errors"
	"fmt"
)

var ErrInvalidParams = errors.New("invalid strategy params")

// Params 动量策略的 13 个超参数。
type Params struct {
	RSIPeriod         int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOversold       float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought     float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	PositionSizePct   float64 `json:"position_size_pct" yaml:"position_size_pct"` // 每笔占用余额比例
	StopLossPct       float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	Leverage          float64 `json:"leverage" yaml:"leverage"`
	MomentumPeriod    int     `json:"momentum_period" yaml:"momentum_period"`
	MomentumThreshold float64 `json:"momentum_threshold" yaml:"momentum_threshold"` // 收益率
	RegimeFilter      bool    `json:"regime_filter" yaml:"regime_filter"`
	TrendEMAPeriod    int     `json:"trend_ema_period" yaml:"trend_ema_period"`
	ATRPeriod         int     `json:"atr_period" yaml:"atr_period"`
	MinConfidence     float64 `json:"min_confidence" yaml:"min_confidence"`
}

func DefaultParams() Params {
	return Params{
		RSIPeriod:         14,
		RSIOversold:       30,
		RSIOverbought:     70,
		PositionSizePct:   0.1,
		StopLossPct:       0.02,
		TakeProfitPct:     0.04,
		Leverage:          1,
		MomentumPeriod:    10,
		MomentumThreshold: 0.01,
		RegimeFilter:      true,
		TrendEMAPeriod:    50,
		ATRPeriod:         14,
		MinConfidence:     0.5,
	}
}

func (p Params) Validate() error {
	switch {
	case p.RSIPeriod < 2:
		return fmt.Errorf("%w: rsi_period %d < 2", ErrInvalidParams, p.RSIPeriod)
	case p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought:
		return fmt.Errorf("%w: rsi bands %.1f/%.1f", ErrInvalidParams, p.RSIOversold, p.RSIOverbought)
	case p.PositionSizePct <= 0 || p.PositionSizePct > 1:
		return fmt.Errorf("%w: position_size_pct %.3f", ErrInvalidParams, p.PositionSizePct)
	case p.StopLossPct < 0 || p.TakeProfitPct < 0:
		return fmt.Errorf("%w: negative stop/target", ErrInvalidParams)
	case p.Leverage < 1:
		return fmt.Errorf("%w: leverage %.2f < 1", ErrInvalidParams, p.Leverage)
	case p.MomentumPeriod < 1 || p.TrendEMAPeriod < 2 || p.ATRPeriod < 2:
		return fmt.Errorf("%w: lookback periods", ErrInvalidParams)
	case p.MomentumThreshold < 0:
		return fmt.Errorf("%w: momentum_threshold %.4f", ErrInvalidParams, p.MomentumThreshold)
	case p.MinConfidence < 0 || p.MinConfidence > 1:
		return fmt.Errorf("%w: min_confidence %.2f", ErrInvalidParams, p.MinConfidence)
	}
	return nil
}

// warmup 计算所有指标所需的最少K线数。
func (p Params) warmup() int {
	n := p.RSIPeriod + 1
	for _, v := range []int{p.TrendEMAPeriod, p.MomentumPeriod + 1, p.ATRPeriod + 1} {
		if v > n {
			n = v
		}
	}
	return n
}
