package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/market"
	"perp-mm-lab/risk"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "t-" + string(rune('a'+s.n))
}

func flatBars(n int, lows ...float64) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(market.Series, n)
	for i := range out {
		low := 99.5
		if i < len(lows) {
			low = lows[i]
		}
		out[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 100.5, Low: low, Close: 100, Volume: 1000,
		}
	}
	return out
}

func newPaper(t *testing.T, cfg PaperConfig, bars market.Series) *PaperConnector {
	t.Helper()
	c, err := NewPaperConnector(cfg, map[string]market.Series{"BTCUSDT": bars}, &seqIDs{}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestPaperConnector_MarketData(t *testing.T) {
	ctx := context.Background()
	c := newPaper(t, DefaultPaperConfig(), flatBars(3))

	tk, err := c.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 99.98, tk.Bid, 1e-9)
	assert.InDelta(t, 100.02, tk.Ask, 1e-9)

	book, err := c.GetOrderbook(ctx, "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 5)
	assert.Greater(t, book.Bids[4].Qty, book.Bids[0].Qty)

	rate, ok, err := c.GetFundingRate(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.0001, rate)

	trades, err := c.GetRecentTrades(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 4)

	_, err = c.GetTicker(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	assert.True(t, c.Advance())
	assert.True(t, c.Advance())
	assert.False(t, c.Advance())
}

func TestPaperConnector_PlaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("市价单按盘口成交", func(t *testing.T) {
		c := newPaper(t, DefaultPaperConfig(), flatBars(3))
		ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Market, Qty: 1})
		require.NoError(t, err)
		assert.Equal(t, StatusFilled, ack.Status)
		assert.InDelta(t, 100.02, ack.AvgPrice, 1e-9)
		assert.InDelta(t, 100.02*0.0006, ack.Fee, 1e-9)
		net, avg, _ := c.Position("BTCUSDT")
		assert.Equal(t, 1.0, net)
		assert.InDelta(t, 100.02, avg, 1e-9)
	})

	t.Run("限价单挂单后触及成交", func(t *testing.T) {
		c := newPaper(t, DefaultPaperConfig(), flatBars(3, 99.5, 98.5))
		ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Limit, Price: 99, Qty: 1})
		require.NoError(t, err)
		assert.Equal(t, StatusNew, ack.Status)
		assert.Equal(t, 1, c.OpenOrders("BTCUSDT"))

		require.True(t, c.Advance())
		assert.Equal(t, 0, c.OpenOrders("BTCUSDT"))
		net, avg, _ := c.Position("BTCUSDT")
		assert.Equal(t, 1.0, net)
		assert.Equal(t, 99.0, avg)
		assert.InDelta(t, 99*0.0002, c.FeesPaid(), 1e-12)

		fills := c.DrainFills()
		require.Len(t, fills, 1)
		assert.Equal(t, ack.ClientID, fills[0].ClientID)
		assert.Equal(t, Buy, fills[0].Side)
		assert.Equal(t, StatusFilled, fills[0].Status)
		assert.Empty(t, c.DrainFills())
	})

	t.Run("只减仓单在空仓时被拒", func(t *testing.T) {
		c := newPaper(t, DefaultPaperConfig(), flatBars(3))
		ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Sell, Type: Market, Qty: 1, ReduceOnly: true})
		assert.ErrorIs(t, err, ErrInvalidOrder)
		assert.Equal(t, StatusRejected, ack.Status)
	})

	t.Run("风控拒绝超限订单", func(t *testing.T) {
		cfg := DefaultPaperConfig()
		cfg.Guards = risk.GuardConfig{Limits: &risk.Limits{SingleMax: 0.5}}
		c := newPaper(t, cfg, flatBars(3))
		_, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Market, Qty: 1})
		assert.ErrorIs(t, err, risk.ErrSingleExceed)
	})

	t.Run("精度约束取整", func(t *testing.T) {
		cfg := DefaultPaperConfig()
		cfg.Constraints = map[string]SymbolConstraints{"BTCUSDT": {TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}}
		c := newPaper(t, cfg, flatBars(3))
		ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Limit, Price: 98.04, Qty: 0.0019})
		require.NoError(t, err)
		assert.Equal(t, 98.0, ack.Price)
		assert.Equal(t, 0.001, ack.Qty)
	})

	t.Run("重复客户端订单号", func(t *testing.T) {
		c := newPaper(t, DefaultPaperConfig(), flatBars(3))
		req := OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Limit, Price: 90, Qty: 1, ClientID: "dup"}
		_, err := c.PlaceOrder(ctx, req)
		require.NoError(t, err)
		_, err = c.PlaceOrder(ctx, req)
		assert.ErrorIs(t, err, ErrIDCollision)
	})
}

func TestNewPaperConnector_RejectsBadFeed(t *testing.T) {
	bars := flatBars(2)
	bars[1].High = 90
	_, err := NewPaperConnector(DefaultPaperConfig(), map[string]market.Series{"BTCUSDT": bars}, nil, nil, nil)
	assert.ErrorIs(t, err, market.ErrInvalidBar)

	_, err = NewPaperConnector(DefaultPaperConfig(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoMarketData)
}

func TestPaperConnector_BookFollowsBars(t *testing.T) {
	ctx := context.Background()
	bars := flatBars(2)
	bars[1].Open, bars[1].High, bars[1].Low, bars[1].Close = 100, 110.5, 99.5, 110
	c := newPaper(t, DefaultPaperConfig(), bars)

	first, err := c.GetOrderbook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, first.Bids, 10)
	assert.InDelta(t, 100.0, first.Mid(), 1e-9)

	require.True(t, c.Advance())
	second, err := c.GetOrderbook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	// 上一根K线的档位已被清除
	assert.Len(t, second.Bids, 10)
	assert.Len(t, second.Asks, 10)
	assert.InDelta(t, 110.0, second.Mid(), 1e-9)
	assert.Greater(t, second.Bids[9].Price, first.Asks[9].Price)
}

func TestPaperConnector_PnLBandGuard(t *testing.T) {
	ctx := context.Background()
	bars := flatBars(2)
	bars[1].Open, bars[1].High, bars[1].Low, bars[1].Close = 100, 100, 89, 90

	cfg := DefaultPaperConfig()
	cfg.Guards = risk.GuardConfig{PnLFloor: -5}
	c := newPaper(t, cfg, bars)

	_, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Market, Qty: 1})
	require.NoError(t, err)
	require.True(t, c.Advance())

	_, err = c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Market, Qty: 1})
	assert.ErrorIs(t, err, risk.ErrPnLTooLow)

	ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Sell, Type: Market, Qty: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, ack.FilledQty)
}

func TestPaperConnector_CancelAll(t *testing.T) {
	ctx := context.Background()
	c := newPaper(t, DefaultPaperConfig(), flatBars(3))
	_, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Buy, Type: Limit, Price: 95, Qty: 1})
	require.NoError(t, err)
	_, err = c.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: Sell, Type: Limit, Price: 105, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, c.OpenOrders("BTCUSDT"))

	var _ Canceler = c
	n, err := c.CancelAll(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.OpenOrders("BTCUSDT"))
}
