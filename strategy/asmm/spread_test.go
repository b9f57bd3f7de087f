package asmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimalSpread_ZeroVolIsLiquidityOnly(t *testing.T) {
	m := newTestMaker(t, nil)
	m.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0})
	assert.InDelta(t, 2/DefaultConfig().OrderArrivalK, m.ComputeOptimalSpread(), 1e-12)
}

func TestOptimalSpread_ZeroKClampsToMin(t *testing.T) {
	m := newTestMaker(t, func(c *Config) { c.OrderArrivalK = 0 })
	m.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0})
	assert.InDelta(t, DefaultConfig().MinSpread/2, m.ComputeOptimalSpread(), 1e-12)
}

func TestOptimalSpread_MonotoneInVolatility(t *testing.T) {
	prev := -1.0
	violations := 0
	for i := 0; i <= 40; i++ {
		m := newTestMaker(t, nil)
		m.UpdateMarketData(MarketState{MidPrice: 100, Volatility: float64(i) * 0.25})
		s := m.ComputeOptimalSpread()
		if s < prev {
			violations++
		}
		prev = s
	}
	assert.LessOrEqual(t, violations, 1)
}

func TestOptimalSpread_ClampedToMax(t *testing.T) {
	m := newTestMaker(t, nil)
	m.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 1000})
	assert.Equal(t, DefaultConfig().MaxSpread/2, m.ComputeOptimalSpread())
}

func TestOptimalSpread_ShortVolWidens(t *testing.T) {
	base := newTestMaker(t, nil)
	base.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0.1})

	calmShort := newTestMaker(t, nil)
	calmShort.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0.1, ShortVolatility: ptr(0.12)})

	hotShort := newTestMaker(t, nil)
	hotShort.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0.1, ShortVolatility: ptr(0.3)})

	// ratio 1.2 不触发放大
	assert.Less(t, calmShort.ComputeOptimalSpread(), hotShort.ComputeOptimalSpread())
	assert.Greater(t, hotShort.ComputeOptimalSpread(), base.ComputeOptimalSpread()*2.9)
}

func TestOptimalSpread_KyleImpact(t *testing.T) {
	m := newTestMaker(t, nil)
	m.UpdateMarketData(MarketState{MidPrice: 100, Volatility: 0, KyleLambda: -0.05})
	expected := 2/DefaultConfig().OrderArrivalK + 0.05*DefaultConfig().OrderSize
	assert.InDelta(t, expected, m.ComputeOptimalSpread(), 1e-12)
}
