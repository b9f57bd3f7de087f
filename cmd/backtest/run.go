package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-mm-lab/backtest"
	"perp-mm-lab/config"
	"perp-mm-lab/market"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
	"perp-mm-lab/strategy"
)

var errNoSource = errors.New("either -data or -scenario is required")

type options struct {
	DataPath     string
	ScenarioID   string
	MarketMaking bool // 做市回测，否则运行 RSI 动量策略
	WalkForward  bool
}

type outcome struct {
	RunID   string
	Source  string
	Bars    int
	Result  *backtest.Result
	MM      *backtest.MMResult
	Windows []backtest.WindowResult
	WF      backtest.WalkForwardSummary
}

// loadSeries 从 CSV 或按 ID 生成的合成场景取得K线。
func loadSeries(cfg config.AppConfig, opts options) (market.Series, string, error) {
	switch {
	case opts.DataPath != "":
		bars, err := market.LoadCSV(opts.DataPath)
		if err != nil {
			return nil, "", fmt.Errorf("load %s: %w", opts.DataPath, err)
		}
		return bars, strings.TrimSuffix(filepath.Base(opts.DataPath), filepath.Ext(opts.DataPath)), nil
	case opts.ScenarioID != "":
		bars, err := generateScenario(cfg, opts.ScenarioID)
		if err != nil {
			return nil, "", err
		}
		return bars, opts.ScenarioID, nil
	}
	return nil, "", errNoSource
}

// generateScenario 按 ID 重建合成场景；ID 与 base_seed、num_bars 一起决定K线。
func generateScenario(cfg config.AppConfig, id string) (market.Series, error) {
	g := scenario.NewGenerator(cfg.Scenario.BaseSeed)
	if cfg.Scenario.NumBars > 0 {
		g.NumBars = cfg.Scenario.NumBars
	}
	p, err := g.Find(id)
	if err != nil {
		return nil, err
	}
	return scenario.NewMarketDataSimulator().GenerateOHLCV(p)
}

func runBacktest(ctx context.Context, cfg config.AppConfig, opts options, store storage.ResultStore, sink storage.SeriesSink, logger *zap.Logger) (outcome, error) {
	bars, source, err := loadSeries(cfg, opts)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{RunID: uuid.NewString(), Source: source, Bars: len(bars)}
	logger = logger.With(zap.String("run_id", out.RunID), zap.String("source", source))

	switch {
	case opts.MarketMaking:
		mm, err := backtest.NewMarketMakingBacktest(cfg.MarketMaking, logger)
		if err != nil {
			return out, err
		}
		if out.MM, err = mm.Run(bars); err != nil {
			return out, err
		}
	case opts.WalkForward:
		b := strategy.NewBuilder(cfg.Backtest.Strategy, cfg.Backtest.Overlays, logger)
		out.Windows, out.WF, err = backtest.WalkForward(cfg.Backtest.Engine, logger, bars, b.Factory(),
			cfg.Backtest.TrainHours, cfg.Backtest.TestHours)
		if err != nil {
			return out, err
		}
	default:
		b := strategy.NewBuilder(cfg.Backtest.Strategy, cfg.Backtest.Overlays, logger)
		engine := backtest.NewEngine(cfg.Backtest.Engine, logger)
		fn, err := b.Attach(engine, bars)
		if err != nil {
			return out, err
		}
		if out.Result, err = engine.Run(bars, fn); err != nil {
			return out, err
		}
	}

	if err := persist(ctx, out, opts, store, sink); err != nil {
		return out, err
	}
	logger.Info("backtest finished", zap.Int("bars", out.Bars))
	return out, nil
}

func mode(opts options) string {
	switch {
	case opts.MarketMaking:
		return "market_making"
	case opts.WalkForward:
		return "walk_forward"
	}
	return "directional"
}

// persist 记录运行元数据，并在有 sink 时导出权益曲线与平仓记录。
func persist(ctx context.Context, out outcome, opts options, store storage.ResultStore, sink storage.SeriesSink) error {
	if store != nil {
		run := storage.Run{
			ID:        out.RunID,
			Kind:      storage.RunBacktest,
			CreatedAt: time.Now().UTC(),
			Note:      fmt.Sprintf("mode=%s source=%s bars=%d", mode(opts), out.Source, out.Bars),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
	}
	if sink == nil {
		return nil
	}
	write := func(id string, m backtest.Metrics) error {
		if err := sink.WriteEquity(ctx, out.RunID, id, m.EquityCurve); err != nil {
			return fmt.Errorf("export equity %s: %w", id, err)
		}
		if err := sink.WriteTrades(ctx, out.RunID, id, m.Trades); err != nil {
			return fmt.Errorf("export trades %s: %w", id, err)
		}
		return nil
	}
	switch {
	case out.MM != nil:
		return write(out.Source, out.MM.Metrics)
	case out.Result != nil:
		return write(out.Source, out.Result.Metrics)
	}
	for _, w := range out.Windows {
		if err := write(fmt.Sprintf("%s#w%d", out.Source, w.Index), w.Result.Metrics); err != nil {
			return err
		}
	}
	return nil
}

func printOutcome(w io.Writer, out outcome) error {
	fmt.Fprintf(w, "run %s source=%s bars=%d\n", out.RunID, out.Source, out.Bars)
	switch {
	case out.MM != nil:
		return backtest.WriteMMReport(w, out.MM)
	case out.Result != nil:
		return backtest.WriteReport(w, out.Result.Metrics)
	}
	return backtest.WriteWalkForward(w, out.Windows, out.WF)
}
