package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/config"
	"perp-mm-lab/internal/container"
)

// 批量压力测试。
// 用法：
//
//	go run ./cmd/stress -config configs/lab.yaml -families market_regime,extreme_stress
//	go run ./cmd/stress -config configs/lab.yaml -watch   # 配置变更后自动重跑
func main() {
	cfgPath := flag.String("config", "configs/lab.yaml", "配置文件路径")
	families := flag.String("families", "", "场景族列表，逗号分隔，留空使用配置")
	workers := flag.Int("workers", 0, "并发数，0 表示使用配置")
	watch := flag.Bool("watch", false, "常驻运行，配置文件变更后重新执行")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := applyFlags(&cfg, *families, *workers); err != nil {
		log.Fatalf("参数错误: %v", err)
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
	logger := c.Logger().Named("stress")

	code := 0
	run, err := runStress(ctx, cfg, c.Store(), c.Alerts(), logger)
	if err != nil {
		logger.Error("stress run failed", zap.String("run_id", run.ID), zap.Error(err))
		code = 1
	} else {
		fmt.Printf("run %s: %d/%d passed (%.1f%%), report %s\n",
			run.ID, run.Summary.Passed, run.Scenarios, run.Summary.PassRate, run.Report)
	}

	if *watch && ctx.Err() == nil {
		w := &config.Watcher{Path: *cfgPath, Cooldown: 2 * time.Second, Logger: logger}
		err := w.Start(ctx, func(next config.AppConfig) {
			if err := applyFlags(&next, *families, *workers); err != nil {
				logger.Warn("reloaded config rejected", zap.Error(err))
				return
			}
			c.Reloaded(next)
			if _, err := runStress(ctx, next, c.Store(), c.Alerts(), logger); err != nil {
				logger.Error("stress rerun failed", zap.Error(err))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("config watcher stopped", zap.Error(err))
			code = 1
		} else {
			code = 0
		}
	}

	if err := c.Stop(); err != nil {
		code = 1
	}
	os.Exit(code)
}

// applyFlags 命令行参数覆盖配置。
func applyFlags(cfg *config.AppConfig, families string, workers int) error {
	fs, err := parseFamilies(families)
	if err != nil {
		return err
	}
	if fs != nil {
		cfg.Scenario.Families = fs
	}
	if workers > 0 {
		cfg.Scenario.Workers = workers
	}
	return nil
}
