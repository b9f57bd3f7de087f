package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("mmlab"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Migrate(ctx))
	// 迁移可重复执行
	require.NoError(t, pool.Migrate(ctx))
	return pool
}

func TestResultStore(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	s := NewResultStore(pool)

	run := storage.Run{ID: "stress-pg", Kind: storage.RunStress, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), storage.ErrDuplicateKey)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	scenarios := scenario.NewGenerator(scenario.DefaultBaseSeed).Family(scenario.FamilyRegime)[:2]
	require.NoError(t, s.SaveScenarios(ctx, run.ID, scenarios))
	assert.ErrorIs(t, s.SaveScenarios(ctx, run.ID, scenarios), storage.ErrDuplicateKey)

	results := []scenario.Result{
		{ScenarioID: scenarios[0].ID, Family: scenario.FamilyRegime, Success: true, Passed: true, TotalReturn: 1.5, TotalTrades: 12, Duration: time.Millisecond},
		{ScenarioID: scenarios[1].ID, Family: scenario.FamilyRegime, Success: true, FailureReasons: []string{"max_drawdown: 30.0% > 20.0%"}, MaxDrawdownPct: 30},
	}
	require.NoError(t, s.SaveResults(ctx, run.ID, results))
	assert.ErrorIs(t, s.SaveResults(ctx, run.ID, results[:1]), storage.ErrDuplicateKey)

	back, err := s.Results(ctx, run.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, results, back)

	opt := storage.Run{ID: "opt-pg", Kind: storage.RunOptimize, CreatedAt: run.CreatedAt}
	require.NoError(t, s.CreateRun(ctx, opt))
	evals := []optimizer.Evaluation{
		{Trial: 0, Score: -0.4, Params: optimizer.StrategyParams{RSIPeriod: 14}, Failures: []string{"sharpe"}},
		{Trial: 1, Score: 0.9, Meets: true, Metrics: optimizer.AggregateMetrics{Sharpe: 1.3, Scenarios: 20}},
	}
	require.NoError(t, s.SaveEvaluations(ctx, opt.ID, evals))
	gotEvals, err := s.Evaluations(ctx, opt.ID)
	require.NoError(t, err)
	assert.Equal(t, evals, gotEvals)
}
