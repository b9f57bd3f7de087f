package sim

import "math/rand"

// FaultInjector 每根K线抽样的运维/数据故障。
type FaultInjector struct {
	OrderRejectProb float64
	DataGapProb     float64
	StaleQuoteProb  float64
	rng             *rand.Rand
}

// Faults 一根K线上的故障结果。
type Faults struct {
	RejectOrders bool // 本根所有新挂单被拒
	DataGap      bool // 行情缺失，跳过该K线
	StaleQuote   bool // 报价沿用上一根，不做撤改
}

func NewFaultInjector(reject, gap, stale float64, rng *rand.Rand) *FaultInjector {
	return &FaultInjector{OrderRejectProb: reject, DataGapProb: gap, StaleQuoteProb: stale, rng: rng}
}

// Enabled 任一概率为正即启用。
func (f *FaultInjector) Enabled() bool {
	return f != nil && (f.OrderRejectProb > 0 || f.DataGapProb > 0 || f.StaleQuoteProb > 0)
}

// Draw 按固定顺序抽样三个故障，保证同一随机源下结果可复现。
func (f *FaultInjector) Draw() Faults {
	if !f.Enabled() || f.rng == nil {
		return Faults{}
	}
	return Faults{
		RejectOrders: f.rng.Float64() < f.OrderRejectProb,
		DataGap:      f.rng.Float64() < f.DataGapProb,
		StaleQuote:   f.rng.Float64() < f.StaleQuoteProb,
	}
}
