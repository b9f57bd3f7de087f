package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perp-mm-lab/infrastructure/alert"
	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage/memory"
)

func smallConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.SampleSize = 2
	cfg.NumBars = 200
	cfg.StartupTrials = 2
	cfg.Families = []scenario.Family{scenario.FamilyRegime}
	return cfg
}

func TestRunOptimize_StoresHistoryAndWritesJSON(t *testing.T) {
	store := memory.New()
	rec := alert.NewRecordingChannel("rec")
	alerts := alert.NewManager([]alert.Channel{rec}, 0, zap.NewNop())

	rep, err := runOptimize(context.Background(), smallConfig(), 3, store, alerts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Trials)
	require.Len(t, rep.History, 3)

	evals, err := store.Evaluations(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Len(t, evals, 3)

	got := rec.Alerts()
	require.Len(t, got, 1)
	assert.Equal(t, "Optimizer", got[0].Type)

	path := filepath.Join(t.TempDir(), "out", "best.json")
	require.NoError(t, writeReport(path, rep))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rep.RunID, back.RunID)
	assert.Equal(t, rep.Best.Params, back.Best.Params)

	var buf bytes.Buffer
	printBest(&buf, rep)
	assert.Contains(t, buf.String(), "rsi_period=")
}

func TestRunOptimize_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.SampleSize = 0
	_, err := runOptimize(context.Background(), cfg, 2, memory.New(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestRunOptimize_CanceledBeforeFirstTrial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.New()
	rep, err := runOptimize(ctx, smallConfig(), 2, store, nil, zap.NewNop())
	require.Error(t, err)
	assert.Zero(t, rep.Trials)

	_, gerr := store.GetRun(context.Background(), rep.RunID)
	assert.NoError(t, gerr)
}
