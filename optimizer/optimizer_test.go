package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/scenario"
	"perp-mm-lab/strategy"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleSize = 3
	cfg.NumBars = 200
	cfg.Families = []scenario.Family{scenario.FamilyRegime, scenario.FamilyVolatility}
	cfg.StartupTrials = 2
	return cfg
}

func TestNewProfitabilityOptimizer_Invalid(t *testing.T) {
	cfg := smallConfig()
	cfg.SampleSize = 0
	_, err := NewProfitabilityOptimizer(cfg, nil)
	assert.Error(t, err)
}

func TestSample_Stable(t *testing.T) {
	o, err := NewProfitabilityOptimizer(smallConfig(), nil)
	require.NoError(t, err)
	a := o.Sample()
	require.Len(t, a, 3)
	assert.Equal(t, a, o.Sample())
}

func TestEvaluateParams_SideEffectFree(t *testing.T) {
	o, err := NewProfitabilityOptimizer(smallConfig(), nil)
	require.NoError(t, err)

	p := strategy.DefaultParams()
	p.RegimeFilter = false
	a, err := o.EvaluateParams(context.Background(), p)
	require.NoError(t, err)
	b, err := o.EvaluateParams(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 3, a.Metrics.Scenarios+a.Metrics.Errors)
	assert.False(t, math.IsNaN(a.Score))
	assert.Empty(t, o.History())
	_, ok := o.Best()
	assert.False(t, ok)

	bad := p
	bad.Leverage = 0
	_, err = o.EvaluateParams(context.Background(), bad)
	assert.ErrorIs(t, err, strategy.ErrInvalidParams)
}

func TestAggregate(t *testing.T) {
	m := Aggregate([]scenario.Result{
		{Success: true, Sharpe: 1, ProfitFactor: 2, MaxDrawdownPct: 5, TotalReturn: 4, TotalTrades: 3},
		{Success: true, Sharpe: 3, ProfitFactor: 1, MaxDrawdownPct: 9, TotalReturn: -2, TotalTrades: 1},
		{Success: false},
	})
	assert.Equal(t, 2, m.Scenarios)
	assert.Equal(t, 1, m.Errors)
	assert.InDelta(t, 2, m.Sharpe, 1e-12)
	assert.InDelta(t, 1.5, m.ProfitFactor, 1e-12)
	assert.InDelta(t, 9, m.MaxDrawdownPct, 1e-12)
	assert.InDelta(t, 1, m.TotalReturn, 1e-12)
	assert.Equal(t, 4, m.TotalTrades)
}

func TestOptimizeTPE(t *testing.T) {
	o, err := NewProfitabilityOptimizer(smallConfig(), nil)
	require.NoError(t, err)

	best, err := o.OptimizeTPE(context.Background(), 4)
	require.NoError(t, err)

	hist := o.History()
	require.Len(t, hist, 4)
	top := math.Inf(-1)
	for i, ev := range hist {
		assert.Equal(t, i+1, ev.Trial)
		require.NoError(t, ev.Params.Validate())
		top = math.Max(top, ev.Score)
	}
	assert.Equal(t, top, best.Score)
}

func TestOptimizeTPE_Canceled(t *testing.T) {
	o, err := NewProfitabilityOptimizer(smallConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.OptimizeTPE(ctx, 3)
	assert.Error(t, err)
	assert.Empty(t, o.History())
}
