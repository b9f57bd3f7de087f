package risk

import (
	"math"

	"github.com/cinar/indicator"

	"perp-mm-lab/market"
)

// SmartExitConfig ATR 倍数止损止盈配置
type SmartExitConfig struct {
	StopATR         float64 `yaml:"stop_atr"`         // 止损距离（ATR 倍数）
	TargetATR       float64 `yaml:"target_atr"`       // 止盈距离（ATR 倍数）
	HighVolWiden    float64 `yaml:"high_vol_widen"`   // 高波动状态下的放大系数
	CalmTighten     float64 `yaml:"calm_tighten"`     // 平静状态下的收窄系数
	TrendTarget     float64 `yaml:"trend_target"`     // 趋势状态下止盈放大系数
	TrailActivation float64 `yaml:"trail_activation"` // 浮盈达到止盈距离该比例后启用移动止损
	TrailATR        float64 `yaml:"trail_atr"`        // 移动止损距离（ATR 倍数）
}

func DefaultSmartExitConfig() SmartExitConfig {
	return SmartExitConfig{
		StopATR:         2.0,
		TargetATR:       3.0,
		HighVolWiden:    1.5,
		CalmTighten:     0.75,
		TrendTarget:     1.5,
		TrailActivation: 0.5,
		TrailATR:        1.5,
	}
}

// SmartExits 根据市场状态调整的 ATR 止损止盈与移动止损。
type SmartExits struct {
	cfg SmartExitConfig
}

func NewSmartExits(cfg SmartExitConfig) *SmartExits {
	return &SmartExits{cfg: cfg}
}

func (s *SmartExits) Config() SmartExitConfig { return s.cfg }

// Levels 计算开仓时的止损止盈价位；atr 非正时返回 0（不设置）。
func (s *SmartExits) Levels(long bool, entry, atr float64, regime market.MarketRegime) (stopLoss, takeProfit float64) {
	if atr <= 0 || entry <= 0 {
		return 0, 0
	}
	stopMul, targetMul := s.cfg.StopATR, s.cfg.TargetATR
	switch regime {
	case market.RegimeHighVol:
		stopMul *= s.cfg.HighVolWiden
		targetMul *= s.cfg.HighVolWiden
	case market.RegimeCalm:
		stopMul *= s.cfg.CalmTighten
		targetMul *= s.cfg.CalmTighten
	case market.RegimeTrendUp, market.RegimeTrendDown:
		targetMul *= s.cfg.TrendTarget
	}
	if long {
		return math.Max(entry-stopMul*atr, entry*0.01), entry + targetMul*atr
	}
	return entry + stopMul*atr, math.Max(entry-targetMul*atr, entry*0.01)
}

// Update 浮盈超过止盈距离的 TrailActivation 后把止损向有利方向移动（只收紧不放宽）。
// exit 表示收盘价已越过新的止损。
func (s *SmartExits) Update(long bool, entry, stop, target, atr float64, bar market.Bar) (newStop float64, exit bool) {
	newStop = stop
	if atr <= 0 || target <= 0 {
		return newStop, false
	}
	if long {
		if bar.High-entry >= s.cfg.TrailActivation*(target-entry) {
			if c := bar.Close - s.cfg.TrailATR*atr; c > newStop {
				newStop = c
			}
		}
		return newStop, newStop > 0 && bar.Close <= newStop
	}
	if entry-bar.Low >= s.cfg.TrailActivation*(entry-target) {
		if c := bar.Close + s.cfg.TrailATR*atr; newStop <= 0 || c < newStop {
			newStop = c
		}
	}
	return newStop, newStop > 0 && bar.Close >= newStop
}

// ATR 返回序列最后一个 ATR 值；数据不足时为 0。
func ATR(bars market.Series, period int) float64 {
	if period <= 0 || len(bars) <= period {
		return 0
	}
	_, atr := indicator.Atr(period, bars.Highs(), bars.Lows(), bars.Closes())
	if len(atr) == 0 {
		return 0
	}
	v := atr[len(atr)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
