package backtest

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/market"
	"perp-mm-lab/sim"
)

// walkBars 带种子的随机游走K线。
func walkBars(n int, seed int64, drift float64) market.Series {
	rng := rand.New(rand.NewSource(seed))
	out := make(market.Series, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		price *= math.Exp(drift + 0.004*rng.NormFloat64())
		hi := math.Max(open, price) * (1 + 0.002*rng.Float64())
		lo := math.Min(open, price) * (1 - 0.002*rng.Float64())
		out[i] = market.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     price,
			Volume:    1000 + 100*rng.Float64(),
		}
	}
	return out
}

func newMM(t *testing.T, mutate func(*MMConfig)) *MarketMakingBacktest {
	t.Helper()
	cfg := DefaultMMConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewMarketMakingBacktest(cfg, nil)
	require.NoError(t, err)
	return b
}

func TestMM_DeterministicWithSeed(t *testing.T) {
	bars := walkBars(300, 7, 0)
	b := newMM(t, nil)

	first, err := b.Run(bars)
	require.NoError(t, err)

	_, err = b.Run(bars)
	assert.ErrorIs(t, err, ErrEngineUsed)

	b.Reset()
	second, err := b.Run(bars)
	require.NoError(t, err)

	assert.Equal(t, first.FinalBalance, second.FinalBalance)
	assert.Equal(t, first.MakerFills, second.MakerFills)
	assert.Equal(t, first.TotalTrades, second.TotalTrades)
	assert.Greater(t, first.MakerFills, 0)
	assert.Len(t, first.EquityCurve, len(bars))
}

func TestMM_FeeConsistency(t *testing.T) {
	b := newMM(t, nil)
	res, err := b.Run(walkBars(300, 11, 0))
	require.NoError(t, err)

	for _, tr := range res.Trades {
		assert.InDelta(t, tr.GrossPnL-tr.TradingFees-tr.FundingFees, tr.NetPnL, 1e-9)
	}
	assert.InDelta(t, res.TotalTradingFees+res.TotalFundingFees, res.TotalFees, 1e-9)
	assert.InDelta(t, res.FinalBalance-10000, res.TotalPnL, 1e-9)
	assert.GreaterOrEqual(t, res.MaxDrawdownPct, 0.0)
	assert.LessOrEqual(t, res.MaxDrawdownPct, 100.0)
}

func TestMM_InventoryBound(t *testing.T) {
	b := newMM(t, func(c *MMConfig) {
		c.HedgeEnabled = false
		c.DrawdownBands = nil
		c.Strategy.MaxInventory = 3
	})
	// 持续下跌，买单不断成交
	res, err := b.Run(walkBars(400, 3, -0.003))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.MaxInventory, 3+b.Config().Strategy.OrderSize+1e-9)
	assert.GreaterOrEqual(t, res.MinInventory, -3-b.Config().Strategy.OrderSize-1e-9)
}

func TestMM_DataGapSkipsEverything(t *testing.T) {
	b := newMM(t, func(c *MMConfig) { c.DataGapProb = 1 })
	bars := walkBars(50, 1, 0)
	res, err := b.Run(bars)
	require.NoError(t, err)
	assert.Equal(t, len(bars), res.SkippedBars)
	assert.Equal(t, 0, res.MakerFills)
	assert.InDelta(t, 10000, res.FinalBalance, 1e-9)
	assert.Empty(t, res.EquityCurve)
}

func TestMM_RejectedOrdersNeverFill(t *testing.T) {
	b := newMM(t, func(c *MMConfig) { c.OrderRejectProb = 1 })
	res, err := b.Run(walkBars(100, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MakerFills)
	assert.Greater(t, res.RejectedOrders, 0)
}

func TestMM_RestingQuoteInsideRangeFills(t *testing.T) {
	b := newMM(t, nil)
	// 挂在合成最优价且停留满 10 个周期时成交概率为 1
	b.quotes[sim.Buy] = &restingQuote{id: "q-1", side: sim.Buy, price: 100, size: 2, periods: 10}
	bar := market.Bar{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100}

	b.resolveFills(0, bar)
	assert.Equal(t, 1, b.makerFills)
	assert.InDelta(t, 2, b.Inventory(), 1e-12)
	assert.InDelta(t, 2*100*b.cfg.MakerFee, b.acct.Fees, 1e-12)
	assert.Empty(t, b.quotes)
}

func TestMM_UntouchedQuoteNeverFills(t *testing.T) {
	bar := market.Bar{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100}
	tests := []struct {
		name  string
		side  sim.Side
		price float64
	}{
		{"买单低于最低价", sim.Buy, 98.9},
		{"卖单高于最高价", sim.Sell, 101.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMM(t, nil)
			b.quotes[tt.side] = &restingQuote{id: "q-1", side: tt.side, price: tt.price, size: 2, periods: 10}
			for k := 0; k < 50; k++ {
				b.resolveFills(k, bar)
			}
			assert.Equal(t, 0, b.makerFills)
			assert.InDelta(t, 0, b.Inventory(), 1e-12)
			require.Contains(t, b.quotes, tt.side)
			assert.Equal(t, 60, b.quotes[tt.side].periods, "未触及时继续排队")
		})
	}
}

func TestMM_FundingPayment(t *testing.T) {
	b := newMM(t, func(c *MMConfig) { c.FundingRate = 0.0001 })
	_, err := sim.ApplyFill(b.acct, sim.Buy, 2, 100, 0)
	require.NoError(t, err)
	before := b.acct.Capital

	b.payFunding(100)
	assert.InDelta(t, 0.02, b.funding, 1e-12)
	assert.InDelta(t, before-0.02, b.acct.Capital, 1e-12)

	// 空头在正费率下收取资金费
	_, err = sim.ApplyFill(b.acct, sim.Sell, 4, 100, 0)
	require.NoError(t, err)
	b.payFunding(100)
	assert.InDelta(t, 0.0, b.funding, 1e-12)
}

func TestMM_HedgeReducesInventory(t *testing.T) {
	b := newMM(t, func(c *MMConfig) {
		c.Hedge.HedgeThreshold = 5
		c.Hedge.HedgeRatio = 0.8
	})
	bar := market.Bar{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100}
	_, err := b.fill(bar, sim.Buy, 10, 100, 0, ExitMakerFill)
	require.NoError(t, err)

	b.hedgeIfNeeded(0, bar)
	assert.Equal(t, 1, b.hedges)
	assert.InDelta(t, 6, b.Inventory(), 1e-9)
	require.Len(t, b.trades, 1)
	assert.Equal(t, ExitHedge, b.trades[0].ExitReason)
	assert.InDelta(t, 4, b.trades[0].Amount, 1e-9)
	require.Len(t, b.HedgeHistory(), 1)
	assert.InDelta(t, 6, b.HedgeHistory()[0].InventoryAfter, 1e-9)
}

func TestMM_InvalidInput(t *testing.T) {
	b := newMM(t, nil)
	_, err := b.Run(nil)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewMarketMakingBacktest(MMConfig{}, nil)
	assert.Error(t, err)
}
