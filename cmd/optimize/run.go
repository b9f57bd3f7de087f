package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-mm-lab/optimizer"
	"perp-mm-lab/risk"
	"perp-mm-lab/storage"
)

// Report 写入 JSON 的优化结果。
type Report struct {
	RunID     string                 `json:"run_id"`
	Trials    int                    `json:"trials"`
	Best      optimizer.Evaluation   `json:"best"`
	History   []optimizer.Evaluation `json:"history"`
	Target    optimizer.Target       `json:"target"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration_ns"`
}

func runOptimize(ctx context.Context, cfg optimizer.Config, trials int, store storage.ResultStore, alerts risk.AlertClient, logger *zap.Logger) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Target: cfg.Target, StartedAt: time.Now().UTC()}
	opt, err := optimizer.NewProfitabilityOptimizer(cfg, logger)
	if err != nil {
		return rep, err
	}
	meta := storage.Run{
		ID:        rep.RunID,
		Kind:      storage.RunOptimize,
		CreatedAt: rep.StartedAt,
		Note:      fmt.Sprintf("trials=%d sample=%d seed=%d", trials, cfg.SampleSize, cfg.Seed),
	}
	if err := store.CreateRun(ctx, meta); err != nil {
		return rep, fmt.Errorf("create run: %w", err)
	}

	best, optErr := opt.OptimizeTPE(ctx, trials)
	rep.Best = best
	rep.History = opt.History()
	rep.Trials = len(rep.History)
	rep.Duration = time.Since(rep.StartedAt)

	if len(rep.History) > 0 {
		if err := store.SaveEvaluations(context.WithoutCancel(ctx), rep.RunID, rep.History); err != nil {
			return rep, fmt.Errorf("save evaluations: %w", err)
		}
	}
	if optErr != nil {
		return rep, optErr
	}
	if alerts != nil {
		alerts.Send("Optimizer", fmt.Sprintf("optimisation %s finished: score=%.3f sharpe=%.2f max_dd=%.1f%% meets_target=%t",
			rep.RunID, best.Score, best.Metrics.Sharpe, best.Metrics.MaxDrawdownPct, best.Meets))
	}
	return rep, nil
}

func writeReport(path string, rep Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// printBest 人类可读的最佳参数与指标。
func printBest(w io.Writer, rep Report) {
	b := rep.Best
	p := b.Params
	fmt.Fprintf(w, "run %s: %d trials in %s\n", rep.RunID, rep.Trials, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "best trial #%d score=%.4f meets_target=%t\n", b.Trial, b.Score, b.Meets)
	fmt.Fprintf(w, "  rsi_period=%d oversold=%.1f overbought=%.1f\n", p.RSIPeriod, p.RSIOversold, p.RSIOverbought)
	fmt.Fprintf(w, "  momentum_period=%d threshold=%.4f trend_ema=%d atr=%d\n", p.MomentumPeriod, p.MomentumThreshold, p.TrendEMAPeriod, p.ATRPeriod)
	fmt.Fprintf(w, "  size=%.3f sl=%.4f tp=%.4f leverage=%.2f min_conf=%.2f regime_filter=%t\n",
		p.PositionSizePct, p.StopLossPct, p.TakeProfitPct, p.Leverage, p.MinConfidence, p.RegimeFilter)
	m := b.Metrics
	fmt.Fprintf(w, "  profit_factor=%.2f sharpe=%.2f sortino=%.2f win_rate=%.1f%% return=%.2f%% max_dd=%.2f%% trades=%d scenarios=%d errors=%d\n",
		m.ProfitFactor, m.Sharpe, m.Sortino, m.WinRate, m.TotalReturn, m.MaxDrawdownPct, m.TotalTrades, m.Scenarios, m.Errors)
	for _, f := range b.Failures {
		fmt.Fprintf(w, "  miss: %s\n", f)
	}
}
