package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/scenario"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleConfig = `
env: dev
logger:
  level: debug
  outputs: [stdout]
backtest:
  engine:
    initial_balance: 5000
    bar_interval: 1h
  strategy:
    rsi_period: 21
  train_hours: 240
  test_hours: 72
market_making:
  funding_interval: 8
  hedge:
    hedge_ratio: 0.5
scenario:
  workers: 4
  mode: directional
  families: [volatility, extreme_stress]
paper:
  engine:
    symbol: ETHUSDT
    tick_interval: 500ms
  venues:
    - name: binance
      taker_fee: 0.0005
      half_spread_bps: 1.5
    - name: okx
      taker_fee: 0.0004
storage:
  backend: memory
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 5000.0, cfg.Backtest.Engine.InitialBalance)
	assert.Equal(t, time.Hour, cfg.Backtest.Engine.BarInterval)
	assert.Equal(t, 21, cfg.Backtest.Strategy.RSIPeriod)
	// 未出现的字段保留默认值
	assert.Equal(t, 30.0, cfg.Backtest.Strategy.RSIOversold)
	assert.Equal(t, 0.0006, cfg.Backtest.Engine.TradingFeeRate)
	assert.Equal(t, 8, cfg.MarketMaking.FundingInterval)
	assert.Equal(t, 0.5, cfg.MarketMaking.Hedge.HedgeRatio)
	assert.Equal(t, scenario.ModeDirectional, cfg.Scenario.Mode)
	assert.Equal(t, []scenario.Family{scenario.FamilyVolatility, scenario.FamilyStress}, cfg.Scenario.Families)

	assert.Equal(t, "ETHUSDT", cfg.Paper.Engine.Symbol)
	assert.Equal(t, 500*time.Millisecond, cfg.Paper.Engine.TickInterval)
	assert.Equal(t, 10, cfg.Paper.Engine.Depth)
	require.Len(t, cfg.Paper.Venues, 2)
	assert.Equal(t, "binance", cfg.Paper.Venues[0].Name)
	assert.Equal(t, 0.0005, cfg.Paper.Venues[0].Paper.TakerFee)
	assert.Equal(t, 1.5, cfg.Paper.Venues[0].Paper.HalfSpreadBps)
	assert.Equal(t, 0.0004, cfg.Paper.Venues[1].Paper.TakerFee)
	assert.Equal(t, 2.0, cfg.Paper.Venues[1].Paper.HalfSpreadBps, "场所未写出的字段取默认值")
	assert.Equal(t, 0.0002, cfg.Paper.Venues[1].Paper.MakerFee)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "env: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "env: dev\nstorage:\n  backend: s3\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "env: prod\nstorage:\n  backend: postgres\n  postgres_dsn: postgres://file\n")
	t.Setenv(EnvPostgresDSN, "postgres://env")
	t.Setenv(EnvClickHouseDSN, "clickhouse://env")

	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, "clickhouse://env", cfg.Storage.ClickHouseDSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"默认配置合法", func(*AppConfig) {}, ""},
		{"缺少环境", func(c *AppConfig) { c.Env = "" }, "env"},
		{"初始资金为零", func(c *AppConfig) { c.Backtest.Engine.InitialBalance = 0 }, "backtest.engine.initial_balance"},
		{"策略参数非法", func(c *AppConfig) { c.Backtest.Strategy.RSIPeriod = 0 }, "backtest.strategy"},
		{"前推窗口只配一半", func(c *AppConfig) { c.Backtest.TrainHours = 100 }, "train_hours"},
		{"对冲比例越界", func(c *AppConfig) { c.MarketMaking.Hedge.HedgeRatio = 1.5 }, "hedge_ratio"},
		{"回撤档位长度不一致", func(c *AppConfig) { c.MarketMaking.DrawdownFractions = nil }, "drawdown_bands"},
		{"未知场景族", func(c *AppConfig) { c.Scenario.Families = []scenario.Family{"weather"} }, "scenario.families"},
		{"未知模式", func(c *AppConfig) { c.Scenario.Mode = "hft" }, "scenario.mode"},
		{"优化抽样为零", func(c *AppConfig) { c.Optimizer.SampleSize = 0 }, "optimizer.sample_size"},
		{"纸面交易对为空", func(c *AppConfig) { c.Paper.Engine.Symbol = "" }, "paper.engine.symbol"},
		{"没有场所", func(c *AppConfig) { c.Paper.Venues = nil }, "paper.venues"},
		{"场所重名", func(c *AppConfig) {
			c.Paper.Venues = append(c.Paper.Venues, c.Paper.Venues[0])
		}, "duplicate"},
		{"postgres 缺 DSN", func(c *AppConfig) { c.Storage.Backend = "postgres" }, "storage.postgres_dsn"},
		{"告警节流格式错误", func(c *AppConfig) { c.Alerts.ThrottleInterval = "soon" }, "alerts.throttle_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "lab.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Paper.Venues, 2)
	assert.Equal(t, "hedge", cfg.Paper.Venues[1].Name)
	assert.Equal(t, 2*time.Second, cfg.Paper.RateLimit.MaxWait)
	assert.Equal(t, 500.0, cfg.Paper.Engine.ToxicityBucketVolume)
}
