package risk

import (
	"math"
	"time"
)

// DrawdownManager 提供权益回撤分层减仓的决策，不直接下单，仅给出建议数量。
// 由做市回测引擎在获得方案后以 taker 单执行。
type DrawdownManager struct {
	Bands     []float64     // 回撤档位（%），例如 [5,8,12]
	Fractions []float64     // 每档对应的减仓比例，例如 [0.15,0.25,0.40]
	Cooldown  time.Duration // 两次触发的最小间隔（模拟时间）
	NetMax    float64       // 单次减仓量上限，0 表示不限
	Base      float64       // 最小动作颗粒度

	clock      Clock
	lastAction time.Time
}

// NewDrawdownManager clock 为 nil 时使用真实时间。
func NewDrawdownManager(bands, fractions []float64, cooldown time.Duration, clock Clock) *DrawdownManager {
	if clock == nil {
		clock = NowUTC
	}
	return &DrawdownManager{
		Bands:     bands,
		Fractions: fractions,
		Cooldown:  cooldown,
		clock:     clock,
	}
}

// Plan 返回建议的减仓数量（绝对值）与触发的档位。
// drawdownPct 为当前权益相对峰值的回撤百分比，net 为当前净库存。
func (d *DrawdownManager) Plan(drawdownPct, net float64) (reduceQty float64, triggeredBand float64) {
	if d == nil || len(d.Bands) == 0 || len(d.Fractions) == 0 || net == 0 {
		return 0, 0
	}
	now := d.clock.Now()
	if d.Cooldown > 0 && !d.lastAction.IsZero() && now.Sub(d.lastAction) < d.Cooldown {
		return 0, 0
	}
	// 找到最高已跨越的档位
	bandIdx := -1
	for i := range d.Bands {
		if i < len(d.Fractions) && drawdownPct >= d.Bands[i] {
			bandIdx = i
		}
	}
	if bandIdx < 0 {
		return 0, 0
	}
	fraction := d.Fractions[bandIdx]
	if fraction <= 0 {
		return 0, 0
	}
	target := math.Abs(net) * fraction
	if d.NetMax > 0 && target > d.NetMax {
		target = d.NetMax
	}
	if d.Base > 0 && target < d.Base {
		target = d.Base
	}
	// 不超过现有库存
	target = math.Min(target, math.Abs(net))
	d.lastAction = now
	return target, d.Bands[bandIdx]
}

// Reset 清除冷却状态。
func (d *DrawdownManager) Reset() {
	d.lastAction = time.Time{}
}
