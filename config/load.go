// Package config 读取实验室运行配置（YAML），敏感字段可由环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"perp-mm-lab/backtest"
	"perp-mm-lab/exchange"
	"perp-mm-lab/infrastructure/logger"
	"perp-mm-lab/internal/engine"
	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/strategy"
)

// 环境变量覆盖
const (
	EnvPostgresDSN   = "MMLAB_POSTGRES_DSN"
	EnvClickHouseDSN = "MMLAB_CLICKHOUSE_DSN"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env          string            `yaml:"env"`
	Logger       logger.Config     `yaml:"logger"`
	Backtest     BacktestConfig    `yaml:"backtest"`
	MarketMaking backtest.MMConfig `yaml:"market_making"`
	Scenario     ScenarioConfig    `yaml:"scenario"`
	Optimizer    optimizer.Config  `yaml:"optimizer"`
	Paper        PaperConfig       `yaml:"paper"`
	Storage      StorageConfig     `yaml:"storage"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	Alerts       AlertConfig       `yaml:"alerts"`
}

// PaperConfig 纸面做市：引擎参数与各场所的回放连接器。第一个场所负责报价，其余只用于对冲。
type PaperConfig struct {
	Engine    engine.Config   `yaml:"engine"`
	Venues    []VenueConfig   `yaml:"venues"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// MarkPriceURL 非空时订阅标记价格流，资金费率以流为准
	MarkPriceURL string `yaml:"mark_price_url"`
}

type VenueConfig struct {
	Name  string               `yaml:"name"`
	Paper exchange.PaperConfig `yaml:",inline"`
}

// UnmarshalYAML 未写出的字段取 exchange.DefaultPaperConfig。
func (v *VenueConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain VenueConfig
	p := plain{Paper: exchange.DefaultPaperConfig()}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*v = VenueConfig(p)
	return nil
}

// RateLimitConfig 每个场所独立的下单令牌桶，Rate 为 0 表示不限流。
type RateLimitConfig struct {
	Rate    float64       `yaml:"rate"`
	Burst   int           `yaml:"burst"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// BacktestConfig 方向性回测：引擎、策略参数与叠加层。
type BacktestConfig struct {
	Engine     backtest.EngineConfig `yaml:"engine"`
	Strategy   strategy.Params       `yaml:"strategy"`
	Overlays   strategy.Overlays     `yaml:"overlays"`
	TrainHours int                   `yaml:"train_hours"` // >0 时运行滚动前推
	TestHours  int                   `yaml:"test_hours"`
}

// ScenarioConfig 压力测试。
type ScenarioConfig struct {
	BaseSeed      int64             `yaml:"base_seed"`
	NumBars       int               `yaml:"num_bars"`
	Families      []scenario.Family `yaml:"families"` // 为空表示全部
	Mode          scenario.Mode     `yaml:"mode"`
	Workers       int               `yaml:"workers"`
	Criteria      scenario.Criteria `yaml:"criteria"`
	AlertPassRate float64           `yaml:"alert_pass_rate"`
	OutputDir     string            `yaml:"output_dir"`
}

// StorageConfig 结果持久化后端。
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory, jsonfile, postgres
	Dir           string `yaml:"dir"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"` // 非空时额外导出权益曲线
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AlertConfig struct {
	LogFile          string `yaml:"log_file"`
	Console          bool   `yaml:"console"`
	ThrottleInterval string `yaml:"throttle_interval"`
}

// Default 返回各模块默认值组成的配置，Load 在其上覆盖 YAML。
func Default() AppConfig {
	return AppConfig{
		Env:    "dev",
		Logger: logger.DefaultConfig(),
		Backtest: BacktestConfig{
			Engine:   backtest.DefaultEngineConfig(),
			Strategy: strategy.DefaultParams(),
			Overlays: strategy.DefaultOverlays(),
		},
		MarketMaking: backtest.DefaultMMConfig(),
		Scenario: ScenarioConfig{
			BaseSeed:      scenario.DefaultBaseSeed,
			NumBars:       scenario.DefaultNumBars,
			Mode:          scenario.ModeMarketMaking,
			Workers:       1,
			Criteria:      scenario.DefaultCriteria(),
			AlertPassRate: 50,
			OutputDir:     "stress_results",
		},
		Optimizer: optimizer.DefaultConfig(),
		Paper: PaperConfig{
			Engine:    engine.DefaultConfig(),
			Venues:    []VenueConfig{{Name: "primary", Paper: exchange.DefaultPaperConfig()}},
			RateLimit: RateLimitConfig{Rate: 50, Burst: 100, MaxWait: 2 * time.Second},
		},
		Storage: StorageConfig{Backend: "jsonfile", Dir: "stress_results"},
		Metrics: MetricsConfig{Addr: ":9101"},
		Alerts:  AlertConfig{Console: true, ThrottleInterval: "5m"},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides DSNs from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv(EnvClickHouseDSN); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
}
