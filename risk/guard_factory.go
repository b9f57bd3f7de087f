package risk

import "time"

// GuardConfig 下单前风控组合配置，零值项不启用。
type GuardConfig struct {
	Limits         *Limits       `yaml:"limits"`
	MaxSpreadRatio float64       `yaml:"max_spread_ratio"`
	MinInterval    time.Duration `yaml:"min_interval"`
	PnLFloor       float64       `yaml:"pnl_floor"`
	PnLCeiling     float64       `yaml:"pnl_ceiling"`
}

// BuildGuards 组装顺序：限额、价差、浮盈区间、频率。
func BuildGuards(cfg GuardConfig, inv Inventory, books BookSource, pnl UnrealizedPnL, clock Clock) MultiGuard {
	var guards []Guard
	if cfg.Limits != nil {
		guards = append(guards, NewLimitChecker(cfg.Limits, inv, clock))
	}
	if cfg.MaxSpreadRatio > 0 && books != nil {
		guards = append(guards, &SpreadGuard{MaxSpreadRatio: cfg.MaxSpreadRatio, Books: books})
	}
	if pnl != nil && (cfg.PnLFloor != 0 || cfg.PnLCeiling != 0) {
		guards = append(guards, &PnLBandGuard{Floor: cfg.PnLFloor, Ceiling: cfg.PnLCeiling, Source: pnl, Inv: inv})
	}
	if cfg.MinInterval > 0 {
		guards = append(guards, NewLatencyGuard(cfg.MinInterval, clock))
	}
	return MultiGuard{Guards: guards}
}
