package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"perp-mm-lab/config"
	"perp-mm-lab/internal/container"
)

// 单次回测：CSV K线或按 ID 生成的合成场景。
// 用法：
//
//	go run ./cmd/backtest -config configs/lab.yaml -data data/btcusdt_1h.csv
//	go run ./cmd/backtest -config configs/lab.yaml -scenario regime_bull_003 -walkforward
//	go run ./cmd/backtest -config configs/lab.yaml -scenario liquidity_thin_001 -mm
func main() {
	cfgPath := flag.String("config", "configs/lab.yaml", "配置文件路径")
	dataPath := flag.String("data", "", "K线 CSV：timestamp,open,high,low,close,volume")
	scenarioID := flag.String("scenario", "", "合成场景 ID，与 -data 二选一")
	mm := flag.Bool("mm", false, "运行做市回测而不是方向性策略")
	walk := flag.Bool("walkforward", false, "按 backtest.train_hours/test_hours 运行滚动前推")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	opts := options{DataPath: *dataPath, ScenarioID: *scenarioID, MarketMaking: *mm, WalkForward: *walk}
	if opts.DataPath == "" && opts.ScenarioID == "" {
		log.Fatal(errNoSource)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	c := container.NewFromConfig(cfg)
	if err := c.Build(ctx); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	logger := c.Logger().Named("backtest")

	code := 0
	out, err := runBacktest(ctx, cfg, opts, c.Store(), c.Series(), logger)
	if err != nil {
		logger.Error("backtest failed", zap.Error(err))
		code = 1
	} else if err := printOutcome(os.Stdout, out); err != nil {
		code = 1
	}
	if err := c.Stop(); err != nil {
		code = 1
	}
	os.Exit(code)
}
