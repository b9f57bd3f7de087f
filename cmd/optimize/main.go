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

// TPE 参数搜索。
// 用法：
//
//	go run ./cmd/optimize -config configs/lab.yaml -trials 50 -out optimize_results/best.json
func main() {
	cfgPath := flag.String("config", "configs/lab.yaml", "配置文件路径")
	trials := flag.Int("trials", 50, "TPE 试验次数")
	sample := flag.Int("sample", 0, "每次评估的场景数，0 表示使用配置")
	outPath := flag.String("out", "optimize_results/best.json", "结果 JSON 路径，留空不写")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *trials <= 0 {
		log.Fatalf("trials 必须为正数: %d", *trials)
	}
	if *sample > 0 {
		cfg.Optimizer.SampleSize = *sample
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
		_ = c.Stop()
		log.Fatalf("启动失败: %v", err)
	}
	logger := c.Logger().Named("optimize")

	code := 0
	rep, err := runOptimize(ctx, cfg.Optimizer, *trials, c.Store(), c.Alerts(), logger)
	if err != nil {
		logger.Error("optimisation failed", zap.String("run_id", rep.RunID), zap.Error(err))
		code = 1
	}
	if rep.Trials > 0 {
		printBest(os.Stdout, rep)
		if *outPath != "" {
			if err := writeReport(*outPath, rep); err != nil {
				logger.Error("write report failed", zap.String("path", *outPath), zap.Error(err))
				code = 1
			} else {
				logger.Info("report written", zap.String("path", *outPath))
			}
		}
	}

	if err := c.Stop(); err != nil {
		code = 1
	}
	os.Exit(code)
}
