package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/backtest"
	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(ctx, storage.Run{ID: "b", Kind: storage.RunStress, CreatedAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateRun(ctx, storage.Run{ID: "a", Kind: storage.RunOptimize, CreatedAt: now}))
	assert.ErrorIs(t, s.CreateRun(ctx, storage.Run{ID: "a", Kind: storage.RunStress}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, s.CreateRun(ctx, storage.Run{}), storage.ErrInvalidInput)

	r, err := s.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.RunOptimize, r.Kind)

	_, err = s.GetRun(ctx, "zzz")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	runs := s.ListRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
}

func TestStore_Results(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRun(ctx, storage.Run{ID: "r1", Kind: storage.RunStress}))

	scenarios := []scenario.Params{{ID: "regime_bull_000"}, {ID: "regime_bear_000"}}
	require.NoError(t, s.SaveScenarios(ctx, "r1", scenarios))
	assert.ErrorIs(t, s.SaveScenarios(ctx, "r1", scenarios), storage.ErrDuplicateKey)

	results := []scenario.Result{
		{ScenarioID: "regime_bull_000", Success: true, Passed: true},
		{ScenarioID: "regime_bear_000", Success: true, FailureReasons: []string{"max_drawdown: 25.0% > 20.0%"}},
	}
	require.NoError(t, s.SaveResults(ctx, "r1", results))
	assert.ErrorIs(t, s.SaveResults(ctx, "r1", results[:1]), storage.ErrDuplicateKey)

	got, err := s.Results(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, results, got)

	// 返回副本
	got[0].Passed = false
	again, _ := s.Results(ctx, "r1")
	assert.True(t, again[0].Passed)

	assert.ErrorIs(t, s.SaveResults(ctx, "nope", results), storage.ErrNotFound)

	require.NoError(t, s.SaveEvaluations(ctx, "r1", []optimizer.Evaluation{{Trial: 1, Score: 0.5}}))
	evals, err := s.Evaluations(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, evals, 1)
}

func TestStore_Series(t *testing.T) {
	ctx := context.Background()
	s := New()
	curve := []backtest.EquityPoint{{Balance: 100, Equity: 101}, {Balance: 100, Equity: 99}}
	require.NoError(t, s.WriteEquity(ctx, "r1", "s1", curve))
	require.NoError(t, s.WriteTrades(ctx, "r1", "s1", []backtest.ClosedTrade{{NetPnL: 98.74}}))

	assert.Equal(t, curve, s.Equity("r1", "s1"))
	assert.Len(t, s.Trades("r1", "s1"), 1)
	assert.Empty(t, s.Equity("r1", "s2"))
}

func TestStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRun(ctx, storage.Run{ID: "r", Kind: storage.RunStress}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SaveResults(ctx, "r", []scenario.Result{{ScenarioID: string(rune('A' + i))}})
			_ = s.WriteEquity(ctx, "r", "x", []backtest.EquityPoint{{Equity: float64(i)}})
		}(i)
	}
	wg.Wait()

	res, err := s.Results(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, res, 20)
	assert.Len(t, s.Equity("r", "x"), 20)
}
