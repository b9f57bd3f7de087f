package config

import (
	"errors"
	"fmt"
	"time"

	"perp-mm-lab/scenario"
)

// ErrInvalid 配置校验失败，具体字段见包装信息。
var ErrInvalid = errors.New("invalid config")

func invalid(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present and numeric ranges are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return invalid("env", "is required")
	}

	bt := cfg.Backtest
	if bt.Engine.InitialBalance <= 0 {
		return invalid("backtest.engine.initial_balance", "must be > 0")
	}
	if bt.Engine.TradingFeeRate < 0 || bt.Engine.MakerFeeRate < 0 {
		return invalid("backtest.engine fee rates", "must be >= 0")
	}
	if bt.Engine.MarginUsageLimit <= 0 || bt.Engine.MarginUsageLimit > 1 {
		return invalid("backtest.engine.margin_usage_limit", "must be in (0,1], got %v", bt.Engine.MarginUsageLimit)
	}
	if err := bt.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: backtest.strategy: %v", ErrInvalid, err)
	}
	if bt.TrainHours < 0 || bt.TestHours < 0 || (bt.TrainHours > 0) != (bt.TestHours > 0) {
		return invalid("backtest.train_hours/test_hours", "must both be > 0 or both 0")
	}

	mm := cfg.MarketMaking
	if mm.InitialCapital <= 0 {
		return invalid("market_making.initial_capital", "must be > 0")
	}
	if mm.FundingInterval <= 0 {
		return invalid("market_making.funding_interval", "must be > 0")
	}
	if err := mm.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: market_making.strategy: %v", ErrInvalid, err)
	}
	if mm.Hedge.HedgeRatio < 0 || mm.Hedge.HedgeRatio > 1 {
		return invalid("market_making.hedge.hedge_ratio", "must be in [0,1], got %v", mm.Hedge.HedgeRatio)
	}
	if len(mm.DrawdownBands) != len(mm.DrawdownFractions) {
		return invalid("market_making.drawdown_bands", "length %d != drawdown_fractions %d", len(mm.DrawdownBands), len(mm.DrawdownFractions))
	}

	sc := cfg.Scenario
	if sc.NumBars < 0 {
		return invalid("scenario.num_bars", "must be >= 0")
	}
	if sc.Workers < 0 {
		return invalid("scenario.workers", "must be >= 0")
	}
	if sc.Mode != scenario.ModeMarketMaking && sc.Mode != scenario.ModeDirectional {
		return invalid("scenario.mode", "unknown %q", sc.Mode)
	}
	if err := validateFamilies("scenario.families", sc.Families); err != nil {
		return err
	}
	if sc.Criteria.MaxDrawdownPct <= 0 || sc.Criteria.MaxDrawdownPct > 100 {
		return invalid("scenario.criteria.max_drawdown_pct", "must be in (0,100]")
	}

	op := cfg.Optimizer
	if op.SampleSize <= 0 {
		return invalid("optimizer.sample_size", "must be > 0")
	}
	if op.StartupTrials < 0 {
		return invalid("optimizer.startup_trials", "must be >= 0")
	}
	if err := validateFamilies("optimizer.families", op.Families); err != nil {
		return err
	}

	if err := validatePaper(cfg.Paper); err != nil {
		return err
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "jsonfile":
		if cfg.Storage.Dir == "" {
			return invalid("storage.dir", "is required for jsonfile backend")
		}
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return invalid("storage.postgres_dsn", "is required for postgres backend (or %s)", EnvPostgresDSN)
		}
	default:
		return invalid("storage.backend", "unknown %q", cfg.Storage.Backend)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return invalid("metrics.addr", "is required when metrics enabled")
	}
	if cfg.Alerts.ThrottleInterval != "" {
		if _, err := time.ParseDuration(cfg.Alerts.ThrottleInterval); err != nil {
			return invalid("alerts.throttle_interval", "%v", err)
		}
	}
	return nil
}

func validateFamilies(field string, fams []scenario.Family) error {
	for _, f := range fams {
		known := false
		for _, k := range scenario.Families {
			if f == k {
				known = true
				break
			}
		}
		if !known {
			return invalid(field, "unknown family %q", f)
		}
	}
	return nil
}

func validatePaper(p PaperConfig) error {
	if p.Engine.Symbol == "" {
		return invalid("paper.engine.symbol", "is required")
	}
	if err := p.Engine.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: paper.engine.strategy: %v", ErrInvalid, err)
	}
	if p.Engine.Hedge.HedgeRatio < 0 || p.Engine.Hedge.HedgeRatio > 1 {
		return invalid("paper.engine.hedge.hedge_ratio", "must be in [0,1], got %v", p.Engine.Hedge.HedgeRatio)
	}
	if len(p.Venues) == 0 {
		return invalid("paper.venues", "at least one venue is required")
	}
	seen := make(map[string]bool, len(p.Venues))
	for i, v := range p.Venues {
		if v.Name == "" {
			return invalid(fmt.Sprintf("paper.venues[%d].name", i), "is required")
		}
		if seen[v.Name] {
			return invalid(fmt.Sprintf("paper.venues[%d].name", i), "duplicate %q", v.Name)
		}
		seen[v.Name] = true
		if v.Paper.MakerFee < 0 || v.Paper.TakerFee < 0 {
			return invalid(fmt.Sprintf("paper.venues[%d] fees", i), "must be >= 0")
		}
	}
	if p.RateLimit.Rate < 0 || p.RateLimit.Burst < 0 {
		return invalid("paper.rate_limit", "must be >= 0")
	}
	return nil
}
