package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
)

func TestBuilder_Build(t *testing.T) {
	ov := DefaultOverlays()
	ov.AdaptiveConfidence = true
	ov.SmartExits = true

	m, err := NewBuilder(DefaultParams(), ov, nil).Build()
	require.NoError(t, err)
	assert.NotNil(t, m.confidence)
	assert.NotNil(t, m.exits)

	bad := DefaultParams()
	bad.Leverage = 0
	_, err = NewBuilder(bad, ov, nil).Build()
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestBuilder_AttachRunsBacktest(t *testing.T) {
	ov := DefaultOverlays()
	ov.CircuitBreaker = true
	ov.SmartExits = true
	p := unfiltered()

	bars := linearBars(150, 200, -0.3)
	e := backtest.NewEngine(backtest.DefaultEngineConfig(), nil)
	b := NewBuilder(p, ov, nil)
	b.Alerts = &alertLog{}
	fn, err := b.Attach(e, bars)
	require.NoError(t, err)

	res, err := e.Run(bars, fn)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Trades)
}

func TestBuilder_FactoryFreshInstances(t *testing.T) {
	p := unfiltered()
	factory := NewBuilder(p, DefaultOverlays(), nil).Factory()

	bars := linearBars(60, 200, -0.5)
	first := factory(nil, nil)
	var sig *backtest.Signal
	for _, b := range bars {
		sig = first(b, 10000, nil)
	}
	require.NotNil(t, sig)

	// 新实例没有历史，需要重新预热
	second := factory(nil, nil)
	assert.Nil(t, second(bars[59], 10000, nil))

	bad := p
	bad.RSIPeriod = 0
	broken := NewBuilder(bad, DefaultOverlays(), nil).Factory()(nil, nil)
	assert.Nil(t, broken(bars[0], 10000, nil))
}

func TestBuilder_FactoryPrimesOnTrainingWindow(t *testing.T) {
	p := unfiltered()
	p.TrendEMAPeriod = 200
	require.Greater(t, p.warmup(), 72, "预热长度超过测试窗口")

	// 下跌后反弹的走势，测试窗口只有 72 根
	bars := append(linearBars(260, 300, -0.4), linearBars(150, 196, 0.6)[1:]...)
	for i := range bars {
		bars[i].Timestamp = t0.Add(time.Duration(i) * time.Hour)
	}
	ov := DefaultOverlays()
	ov.CircuitBreaker = true
	ov.SmartExits = true

	windows, summary, err := backtest.WalkForward(backtest.DefaultEngineConfig(), nil, bars,
		NewBuilder(p, ov, nil).Factory(), 240, 72)
	require.NoError(t, err)
	require.NotEmpty(t, windows)
	assert.Positive(t, summary.TotalTrades, "训练窗口预热后测试窗口内可以交易")

	// 冷启动的同一参数在 72 根内无法完成预热
	cold := NewBuilder(p, ov, nil).Factory()(nil, nil)
	assert.Nil(t, feedFunc(cold, bars[240:312]))
}

func TestBuilder_FactoryInstallsOverlays(t *testing.T) {
	ov := DefaultOverlays()
	ov.SmartExits = true
	ov.CircuitBreaker = true
	e := backtest.NewEngine(backtest.DefaultEngineConfig(), nil)
	fn := NewBuilder(unfiltered(), ov, nil).Factory()(e, linearBars(60, 200, -0.5))
	require.NotNil(t, fn)
	assert.True(t, e.HasGate(), "熔断叠加层挂到窗口引擎")
}

func feedFunc(fn backtest.StrategyFunc, bars market.Series) *backtest.Signal {
	var last *backtest.Signal
	for _, b := range bars {
		if sig := fn(b, 10000, nil); sig != nil {
			last = sig
		}
	}
	return last
}

type alertLog struct{ msgs []string }

func (a *alertLog) Send(typ, msg string) { a.msgs = append(a.msgs, typ+": "+msg) }
