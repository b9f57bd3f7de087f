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

// 纸面做市：在一个或多个模拟交易所上回放K线，跑完整的报价/对冲/风控循环。
// 用法：
//
//	go run ./cmd/paper -config configs/lab.yaml -data data/btcusdt_1h.csv
//	go run ./cmd/paper -config configs/lab.yaml -scenario liquidity_thin_001 -funding-stream
func main() {
	cfgPath := flag.String("config", "configs/lab.yaml", "配置文件路径")
	dataPath := flag.String("data", "", "K线 CSV：timestamp,open,high,low,close,volume")
	scenarioID := flag.String("scenario", "", "合成场景 ID，与 -data 二选一")
	fundingStream := flag.Bool("funding-stream", false, "订阅标记价格流，用实时资金费率替代模拟值")
	statsPath := flag.String("stats", "", "运行统计写入的 JSON 文件")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	opts := options{DataPath: *dataPath, ScenarioID: *scenarioID, FundingStream: *fundingStream, StatsPath: *statsPath}
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
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	logger := c.Logger().Named("paper")

	code := 0
	out, err := runPaper(ctx, cfg, opts, c.Store(), c.Alerts(), logger)
	if err != nil {
		logger.Error("paper run failed", zap.Error(err))
		code = 1
	}
	if out.RunID != "" {
		if err := printOutcome(os.Stdout, out); err != nil {
			code = 1
		}
	}
	if err := c.Stop(); err != nil {
		code = 1
	}
	os.Exit(code)
}
