package asmm

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 配置非法。
var ErrInvalidConfig = errors.New("invalid asmm config")

// Config Avellaneda-Stoikov 做市参数。价差与价格均为绝对价格单位。
type Config struct {
	RiskAversion      float64 `yaml:"risk_aversion" json:"risk_aversion"`             // γ
	OrderArrivalK     float64 `yaml:"order_arrival_k" json:"order_arrival_k"`         // k
	TerminalTime      float64 `yaml:"terminal_time" json:"terminal_time"`             // T
	Dt                float64 `yaml:"dt" json:"dt"`                                   // 每次更新推进的时间
	MinSpread         float64 `yaml:"min_spread" json:"min_spread"`                   // 全价差下限
	MaxSpread         float64 `yaml:"max_spread" json:"max_spread"`                   // 全价差上限
	MaxInventory      float64 `yaml:"max_inventory" json:"max_inventory"`             // 软上限
	TargetInventory   float64 `yaml:"target_inventory" json:"target_inventory"`       // 目标库存
	OFISensitivity    float64 `yaml:"ofi_sensitivity" json:"ofi_sensitivity"`         // OFI 对保留价的影响（价格比例）
	ImpactSensitivity float64 `yaml:"impact_sensitivity" json:"impact_sensitivity"`   // Kyle λ 冲击项系数
	VolRatioThreshold float64 `yaml:"vol_ratio_threshold" json:"vol_ratio_threshold"` // 短/长波动率比超过则放大价差
	SkewCoefficient   float64 `yaml:"skew_coefficient" json:"skew_coefficient"`       // 二次库存偏斜系数
	OrderSize         float64 `yaml:"order_size" json:"order_size"`
}

// DefaultConfig 返回适用于价格在 100 附近、小时线回放的默认参数。
func DefaultConfig() Config {
	return Config{
		RiskAversion:      0.1,
		OrderArrivalK:     40,
		TerminalTime:      1.0,
		Dt:                1.0 / 24,
		MinSpread:         0.02,
		MaxSpread:         2.0,
		MaxInventory:      10,
		TargetInventory:   0,
		OFISensitivity:    0.0005,
		ImpactSensitivity: 1.0,
		VolRatioThreshold: 1.5,
		SkewCoefficient:   0.05,
		OrderSize:         1,
	}
}

// Validate checks if the Config is valid.
func (c Config) Validate() error {
	if c.RiskAversion < 0 {
		return fmt.Errorf("%w: risk_aversion must be >= 0, got %v", ErrInvalidConfig, c.RiskAversion)
	}
	if c.OrderArrivalK < 0 {
		return fmt.Errorf("%w: order_arrival_k must be >= 0, got %v", ErrInvalidConfig, c.OrderArrivalK)
	}
	if c.TerminalTime <= 0 {
		return fmt.Errorf("%w: terminal_time must be > 0", ErrInvalidConfig)
	}
	if c.Dt <= 0 || c.Dt > c.TerminalTime {
		return fmt.Errorf("%w: dt must be in (0, terminal_time], got %v", ErrInvalidConfig, c.Dt)
	}
	if c.MinSpread < 0 || c.MaxSpread <= 0 || c.MinSpread > c.MaxSpread {
		return fmt.Errorf("%w: spread bounds [%v, %v]", ErrInvalidConfig, c.MinSpread, c.MaxSpread)
	}
	if c.VolRatioThreshold <= 0 {
		return fmt.Errorf("%w: vol_ratio_threshold must be > 0", ErrInvalidConfig)
	}
	if c.OrderSize <= 0 {
		return fmt.Errorf("%w: order_size must be > 0", ErrInvalidConfig)
	}
	return nil
}
