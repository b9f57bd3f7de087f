package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-mm-lab/config"
	"perp-mm-lab/risk"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
	"perp-mm-lab/strategy"
)

// stressRun 一次压力测试的产出。
type stressRun struct {
	ID        string
	Scenarios int
	Summary   scenario.Summary
	Report    string // summary.txt 路径
}

// parseFamilies 解析 -families，返回 nil 表示沿用配置。
func parseFamilies(arg string) ([]scenario.Family, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, nil
	}
	known := make(map[scenario.Family]bool, len(scenario.Families))
	for _, f := range scenario.Families {
		known[f] = true
	}
	var out []scenario.Family
	for _, p := range strings.Split(arg, ",") {
		f := scenario.Family(strings.TrimSpace(p))
		if f == "" {
			continue
		}
		if !known[f] {
			return nil, fmt.Errorf("unknown scenario family %q", f)
		}
		out = append(out, f)
	}
	return out, nil
}

func generate(sc config.ScenarioConfig) []scenario.Params {
	g := scenario.NewGenerator(sc.BaseSeed)
	if sc.NumBars > 0 {
		g.NumBars = sc.NumBars
	}
	if len(sc.Families) == 0 {
		return g.GenerateAll()
	}
	var out []scenario.Params
	for _, f := range sc.Families {
		out = append(out, g.Family(f)...)
	}
	return out
}

func newTester(cfg config.AppConfig, alerts risk.AlertClient, logger *zap.Logger) *scenario.StressTester {
	sc := cfg.Scenario
	t := scenario.NewStressTester(logger)
	t.Mode = sc.Mode
	t.MM = cfg.MarketMaking
	t.Engine = cfg.Backtest.Engine
	t.Criteria = sc.Criteria
	t.Workers = sc.Workers
	t.Alerts = alerts
	t.AlertPassRate = sc.AlertPassRate
	if sc.Mode == scenario.ModeDirectional {
		t.Strategy = strategy.NewBuilder(cfg.Backtest.Strategy, cfg.Backtest.Overlays, logger)
		t.Strategy.Alerts = alerts
	}
	return t
}

// runStress 生成场景、运行并持久化。ctx 取消时已完成的结果和汇总仍会写入。
func runStress(ctx context.Context, cfg config.AppConfig, store storage.ResultStore, alerts risk.AlertClient, logger *zap.Logger) (stressRun, error) {
	scenarios := generate(cfg.Scenario)
	run := stressRun{ID: uuid.NewString(), Scenarios: len(scenarios)}
	if len(scenarios) == 0 {
		return run, errors.New("no scenarios generated")
	}
	logger = logger.With(zap.String("run_id", run.ID))

	meta := storage.Run{
		ID:        run.ID,
		Kind:      storage.RunStress,
		CreatedAt: time.Now().UTC(),
		Note:      fmt.Sprintf("mode=%s scenarios=%d seed=%d", cfg.Scenario.Mode, len(scenarios), cfg.Scenario.BaseSeed),
	}
	if err := store.CreateRun(ctx, meta); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}
	if err := store.SaveScenarios(ctx, run.ID, scenarios); err != nil {
		return run, fmt.Errorf("save scenarios: %w", err)
	}
	logger.Info("stress run started", zap.Int("scenarios", len(scenarios)), zap.Int("workers", cfg.Scenario.Workers))

	results, sum, runErr := newTester(cfg, alerts, logger).Run(ctx, scenarios)
	run.Summary = sum

	persist := context.WithoutCancel(ctx)
	if err := store.SaveResults(persist, run.ID, results); err != nil {
		return run, errors.Join(runErr, fmt.Errorf("save results: %w", err))
	}
	path, err := writeSummary(cfg.Scenario.OutputDir, run.ID, sum)
	if err != nil {
		return run, errors.Join(runErr, err)
	}
	run.Report = path

	logger.Info("stress run finished",
		zap.Int("passed", sum.Passed),
		zap.Int("failed", sum.Failed),
		zap.Int("errors", sum.Errors),
		zap.Float64("pass_rate", sum.PassRate),
		zap.Duration("duration", sum.Duration),
		zap.String("report", path),
	)
	return run, runErr
}

func writeSummary(dir, runID string, sum scenario.Summary) (string, error) {
	if dir == "" {
		dir = "."
	}
	runDir := filepath.Join(dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(runDir, "summary.txt")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create summary: %w", err)
	}
	if err := sum.WriteReport(f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, f.Close()
}
