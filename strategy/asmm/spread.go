package asmm

import "math"

// ComputeOptimalSpread 返回半价差 δ = γσ²(T−t) + 2/k + impact。
// σ=0 时只剩流动性项；k<=0 时流动性项为 0。短周期波动率超过长周期
// VolRatioThreshold 倍时按比值放大，最后截断到 [MinSpread/2, MaxSpread/2]。
func (m *MarketMaker) ComputeOptimalSpread() float64 {
	sigma := m.effectiveVolatility()
	tau := m.timeRemaining()

	riskTerm := m.cfg.RiskAversion * sigma * sigma * tau

	liquidityTerm := 0.0
	if m.cfg.OrderArrivalK > 0 {
		liquidityTerm = 2 / m.cfg.OrderArrivalK
	}

	impact := m.cfg.ImpactSensitivity * math.Abs(m.kyleLambda) * m.cfg.OrderSize

	half := riskTerm + liquidityTerm + impact

	if m.shortVol != nil && m.volatility > 0 {
		ratio := *m.shortVol / m.volatility
		if ratio > m.cfg.VolRatioThreshold {
			half *= ratio
		}
	}

	return clamp(half, m.cfg.MinSpread/2, m.cfg.MaxSpread/2)
}

// inventorySkew 二次偏斜 c·x·|x|，x 为归一化库存。
// 偏斜以乘法方式作用在买卖两侧报价上，而非文献中的加法偏移，这是有意的简化。
func (m *MarketMaker) inventorySkew() float64 {
	if m.cfg.MaxInventory <= 0 {
		return 0
	}
	x := clamp(m.deviation()/m.cfg.MaxInventory, -1, 1)
	return m.cfg.SkewCoefficient * x * math.Abs(x)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
