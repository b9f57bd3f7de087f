package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
	"perp-mm-lab/risk"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// linearBars 每根K线收盘价变化 step，开盘价为上一根收盘价。
func linearBars(n int, start, step float64) market.Series {
	out := make(market.Series, n)
	prev := start
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		out[i] = market.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      prev,
			High:      math.Max(prev, c) + 0.2,
			Low:       math.Min(prev, c) - 0.2,
			Close:     c,
			Volume:    100,
		}
		prev = c
	}
	return out
}

func unfiltered() Params {
	p := DefaultParams()
	p.RegimeFilter = false
	return p
}

// feed 依次喂入K线并返回最后一个信号。
func feed(m *Momentum, bars market.Series) *backtest.Signal {
	var sig *backtest.Signal
	for _, b := range bars {
		sig = m.Signal(b, 10000, nil)
	}
	return sig
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{"默认参数", func(*Params) {}, true},
		{"RSI周期过短", func(p *Params) { p.RSIPeriod = 1 }, false},
		{"超卖高于超买", func(p *Params) { p.RSIOversold = 80 }, false},
		{"仓位比例为0", func(p *Params) { p.PositionSizePct = 0 }, false},
		{"杠杆小于1", func(p *Params) { p.Leverage = 0.5 }, false},
		{"置信度超过1", func(p *Params) { p.MinConfidence = 1.5 }, false},
		{"负止损", func(p *Params) { p.StopLossPct = -0.1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParams)
			}
		})
	}
}

func TestSignal_Warmup(t *testing.T) {
	m, err := NewMomentum(unfiltered())
	require.NoError(t, err)
	bars := linearBars(20, 200, -0.5)
	for _, b := range bars {
		assert.Nil(t, m.Signal(b, 10000, nil))
	}
}

func TestPrime_SkipsWarmup(t *testing.T) {
	m, err := NewMomentum(unfiltered())
	require.NoError(t, err)
	bars := linearBars(60, 200, -0.5)
	m.Prime(bars[:59])
	sig := m.Signal(bars[59], 10000, nil)
	require.NotNil(t, sig, "预热后第一根即可出信号")
	assert.Equal(t, backtest.Long, sig.Side)
}

func TestSignal_Direction(t *testing.T) {
	tests := []struct {
		name   string
		step   float64
		filter bool
		want   *backtest.Side
	}{
		{"下跌超卖做多", -0.5, false, sidePtr(backtest.Long)},
		{"上涨超买做空", 0.5, false, sidePtr(backtest.Short)},
		{"趋势过滤拦截逆势多单", -0.5, true, nil},
		{"趋势过滤拦截逆势空单", 0.5, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.RegimeFilter = tt.filter
			m, err := NewMomentum(p)
			require.NoError(t, err)

			sig := feed(m, linearBars(60, 200, tt.step))
			if tt.want == nil {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, *tt.want, sig.Side)
			assert.GreaterOrEqual(t, sig.Confidence, p.MinConfidence)
		})
	}
}

func TestSignal_SizingAndPercentLevels(t *testing.T) {
	p := unfiltered()
	m, err := NewMomentum(p)
	require.NoError(t, err)

	bars := linearBars(60, 200, -0.5)
	sig := feed(m, bars)
	require.NotNil(t, sig)

	last := bars[len(bars)-1].Close
	assert.InDelta(t, 10000*p.PositionSizePct*p.Leverage/last, sig.Amount, 1e-9)
	assert.InDelta(t, last*(1-p.StopLossPct), sig.StopLoss, 1e-9)
	assert.InDelta(t, last*(1+p.TakeProfitPct), sig.TakeProfit, 1e-9)
}

func TestSignal_SkipsSameSidePosition(t *testing.T) {
	m, err := NewMomentum(unfiltered())
	require.NoError(t, err)

	bars := linearBars(60, 200, -0.5)
	for _, b := range bars[:59] {
		m.Signal(b, 10000, nil)
	}
	open := []backtest.Position{{Side: backtest.Long, EntryPrice: 171, Amount: 1}}
	assert.Nil(t, m.Signal(bars[59], 10000, open))
}

func TestSignal_SmartExitLevels(t *testing.T) {
	exits := risk.NewSmartExits(risk.DefaultSmartExitConfig())
	m, err := NewMomentum(unfiltered(), WithSmartExits(exits))
	require.NoError(t, err)

	sig := feed(m, linearBars(60, 200, -0.5))
	require.NotNil(t, sig)
	require.Greater(t, m.LastATR(), 0.0)

	wantSL, wantTP := exits.Levels(true, 170.5, m.LastATR(), m.Regime())
	assert.InDelta(t, wantSL, sig.StopLoss, 1e-9)
	assert.InDelta(t, wantTP, sig.TakeProfit, 1e-9)
}

func TestReset_ClearsHistory(t *testing.T) {
	m, err := NewMomentum(unfiltered())
	require.NoError(t, err)
	require.NotNil(t, feed(m, linearBars(60, 200, -0.5)))

	m.Reset()
	assert.Nil(t, m.Signal(linearBars(1, 100, 0)[0], 10000, nil))
	assert.Zero(t, m.LastATR())
}

func TestMomentum_EngineIntegration(t *testing.T) {
	m, err := NewMomentum(unfiltered())
	require.NoError(t, err)

	e := backtest.NewEngine(backtest.DefaultEngineConfig(), nil)
	breaker := risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), risk.NewSimClock(t0), nil)
	m.Install(e, breaker)

	res, err := e.Run(linearBars(150, 200, -0.3), m.Func())
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	for _, tr := range res.Trades {
		assert.Equal(t, backtest.Long, tr.Side)
	}
	assert.Less(t, res.TotalPnL, 0.0)
}

func TestOverlayGate_NilSafe(t *testing.T) {
	var g OverlayGate
	assert.True(t, g.AllowTrade())
	g.RecordTradeResult(-5)
	g.RecordEquity(100)
}

func sidePtr(s backtest.Side) *backtest.Side { return &s }
