// Package container 组装命令行工具共用的组件：日志、告警、结果存储、指标服务，
// 并统一管理它们的生命周期。
package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"perp-mm-lab/config"
	"perp-mm-lab/infrastructure/alert"
	"perp-mm-lab/infrastructure/logger"
	"perp-mm-lab/metrics"
	"perp-mm-lab/storage"
	"perp-mm-lab/storage/clickhouse"
	"perp-mm-lab/storage/jsonfile"
	"perp-mm-lab/storage/memory"
	"perp-mm-lab/storage/postgres"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	mu  sync.RWMutex
	cfg config.AppConfig

	// 基础设施
	logger *logger.Logger
	alerts *alert.Manager

	// 持久化；series 在未配置 ClickHouse 且非内存后端时为 nil
	store  storage.ResultStore
	series storage.SeriesSink

	metricsServer *httpServerComponent
	lifecycle     *LifecycleManager

	// 测试中替换
	notify func(state string) (bool, error)
}

// New 加载配置并创建 Container，需要再调用 Build。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStorage(ctx); err != nil {
		_ = c.lifecycle.StopAll()
		return fmt.Errorf("build storage failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("env", c.cfg.Env),
		zap.String("storage", c.cfg.Storage.Backend),
		zap.Bool("series_export", c.series != nil),
	)
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	var channels []alert.Channel
	channels = append(channels, alert.NewZapChannel("log", c.logger.Named("alert")))
	if c.cfg.Alerts.Console {
		ch := alert.NewWriterChannel("console", os.Stderr)
		ch.Color = true
		channels = append(channels, ch)
	}
	if c.cfg.Alerts.LogFile != "" {
		w := &lumberjack.Logger{
			Filename:   c.cfg.Alerts.LogFile,
			MaxSize:    c.cfg.Logger.MaxSize,
			MaxBackups: c.cfg.Logger.MaxBackups,
			MaxAge:     c.cfg.Logger.MaxAge,
		}
		channels = append(channels, alert.NewWriterChannel("file", w))
		c.lifecycle.Register(&closerComponent{name: "alert_file", closer: w})
	}

	interval := 5 * time.Minute
	if c.cfg.Alerts.ThrottleInterval != "" {
		d, err := time.ParseDuration(c.cfg.Alerts.ThrottleInterval)
		if err != nil {
			return fmt.Errorf("alerts.throttle_interval: %w", err)
		}
		interval = d
	}
	c.alerts = alert.NewManager(channels, interval, c.logger.Logger)
	return nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	sc := c.cfg.Storage
	switch sc.Backend {
	case "", "memory":
		mem := memory.New()
		c.store, c.series = mem, mem
	case "jsonfile":
		st, err := jsonfile.New(sc.Dir)
		if err != nil {
			return err
		}
		c.store = st
	case "postgres":
		pool, err := postgres.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		c.store = postgres.NewResultStore(pool)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, sc.Backend)
	}
	c.lifecycle.Register(&closerComponent{name: "result_store", closer: c.store})

	if sc.ClickHouseDSN == "" {
		return nil
	}
	conn, err := clickhouse.NewConn(ctx, sc.ClickHouseDSN)
	if err != nil {
		return err
	}
	if err := conn.Migrate(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	c.series = clickhouse.NewSeriesStore(conn)
	c.lifecycle.Register(&closerComponent{name: "series_store", closer: c.series})
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if !c.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	c.metricsServer = &httpServerComponent{
		name:    "metrics_server",
		handler: mux,
		addr:    c.cfg.Metrics.Addr,
		logger:  c.logger.Logger,
	}
	c.lifecycle.Register(c.metricsServer)
}

// Start 启动指标服务并通知 systemd（不在 systemd 下运行时通知被忽略）。
func (c *Container) Start(ctx context.Context) error {
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.sdNotify(daemon.SdNotifyReady)
	c.logger.Info("container started")
	return nil
}

// Reloaded 配置热更新后调用。
func (c *Container) Reloaded(cfg config.AppConfig) {
	c.sdNotify(daemon.SdNotifyReloading)
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.sdNotify(daemon.SdNotifyReady)
}

func (c *Container) Stop() error {
	c.sdNotify(daemon.SdNotifyStopping)
	err := c.lifecycle.StopAll()
	if c.logger == nil {
		return err
	}
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) sdNotify(state string) {
	if c.notify == nil || c.logger == nil {
		return
	}
	if _, err := c.notify(state); err != nil {
		c.logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}

func (c *Container) Config() config.AppConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Alerts() *alert.Manager { return c.alerts }

func (c *Container) Store() storage.ResultStore { return c.store }

func (c *Container) Series() storage.SeriesSink { return c.series }

// MetricsAddr 指标服务实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metricsServer == nil {
		return ""
	}
	return c.metricsServer.Addr()
}
