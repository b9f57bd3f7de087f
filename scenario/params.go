// Package scenario 生成确定性的压力测试场景、合成行情，并批量运行回测。
package scenario

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

var ErrInvalidParams = errors.New("invalid scenario params")

// Family 场景族。
type Family string

const (
	FamilyRegime         Family = "market_regime"
	FamilyVolatility     Family = "volatility"
	FamilyLiquidity      Family = "liquidity"
	FamilyMicrostructure Family = "microstructure"
	FamilyLatency        Family = "latency"
	FamilyOperational    Family = "operational"
	FamilyMultiAsset     Family = "multi_asset"
	FamilyWalkForward    Family = "walk_forward"
	FamilyStress         Family = "extreme_stress"
)

// Families 固定顺序，GenerateAll 按此拼接。
var Families = []Family{
	FamilyRegime, FamilyVolatility, FamilyLiquidity,
	FamilyMicrostructure, FamilyLatency, FamilyOperational,
	FamilyMultiAsset, FamilyWalkForward, FamilyStress,
}

type Regime string

const (
	RegimeBull       Regime = "bull"
	RegimeBear       Regime = "bear"
	RegimeRanging    Regime = "ranging"
	RegimeHighVol    Regime = "high_volatility"
	RegimeCrash      Regime = "crash"
	RegimeFlashCrash Regime = "flash_crash"
	RegimeGap        Regime = "gap"
)

var Regimes = []Regime{RegimeBull, RegimeBear, RegimeRanging, RegimeHighVol, RegimeFlashCrash, RegimeGap}

// VolatilityLevel 对应每根K线的基础波动率。
type VolatilityLevel string

const (
	VolVeryLow VolatilityLevel = "very_low"
	VolLow     VolatilityLevel = "low"
	VolMedium  VolatilityLevel = "medium"
	VolHigh    VolatilityLevel = "high"
	VolExtreme VolatilityLevel = "extreme"
)

var VolatilityLevels = []VolatilityLevel{VolVeryLow, VolLow, VolMedium, VolHigh, VolExtreme}

var baseVol = map[VolatilityLevel]float64{
	VolVeryLow: 0.002,
	VolLow:     0.005,
	VolMedium:  0.01,
	VolHigh:    0.02,
	VolExtreme: 0.04,
}

// LiquidityLevel 决定成交量倍数和滑点。
type LiquidityLevel string

const (
	LiqVeryThin LiquidityLevel = "very_thin"
	LiqThin     LiquidityLevel = "thin"
	LiqNormal   LiquidityLevel = "normal"
	LiqDeep     LiquidityLevel = "deep"
	LiqVeryDeep LiquidityLevel = "very_deep"
)

var LiquidityLevels = []LiquidityLevel{LiqVeryThin, LiqThin, LiqNormal, LiqDeep, LiqVeryDeep}

var liquidity = map[LiquidityLevel]struct{ volume, slippageBps float64 }{
	LiqVeryThin: {0.1, 20},
	LiqThin:     {0.3, 10},
	LiqNormal:   {1, 5},
	LiqDeep:     {3, 2},
	LiqVeryDeep: {10, 1},
}

// Params 单个场景的完整参数，生成后不再修改。
type Params struct {
	ID              string          `json:"scenario_id"`
	Name            string          `json:"name"`
	Family          Family          `json:"family"`
	Seed            int64           `json:"seed"`
	Regime          Regime          `json:"regime"`
	VolatilityLevel VolatilityLevel `json:"volatility_level"`
	LiquidityLevel  LiquidityLevel  `json:"liquidity_level"`
	NumBars         int             `json:"num_bars"`
	InitialPrice    float64         `json:"initial_price"`
	BaseVolatility  float64         `json:"base_volatility"` // 每根K线
	Drift           float64         `json:"drift"`           // 每根K线
	MakerFee        float64         `json:"maker_fee"`
	TakerFee        float64         `json:"taker_fee"`
	FundingRate     float64         `json:"funding_rate"`
	SlippageBps     float64         `json:"slippage_bps"`
	LatencyMinMs    float64         `json:"latency_min_ms"`
	LatencyMaxMs    float64         `json:"latency_max_ms"`
	OrderRejectProb float64         `json:"order_reject_prob"`
	DataGapProb     float64         `json:"data_gap_prob"`
	StaleQuoteProb  float64         `json:"stale_quote_prob"`
	Assets          []string        `json:"assets"`
	Correlation     float64         `json:"correlation"`
	TrainBars       int             `json:"train_bars,omitempty"`
	TestBars        int             `json:"test_bars,omitempty"`
	StressMagnitude float64         `json:"stress_magnitude,omitempty"` // 冲击幅度（比例）
}

func (p Params) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidParams)
	case p.NumBars <= 0:
		return fmt.Errorf("%w: %s num_bars %d", ErrInvalidParams, p.ID, p.NumBars)
	case p.InitialPrice <= 0:
		return fmt.Errorf("%w: %s initial_price %v", ErrInvalidParams, p.ID, p.InitialPrice)
	case p.BaseVolatility < 0:
		return fmt.Errorf("%w: %s base_volatility %v", ErrInvalidParams, p.ID, p.BaseVolatility)
	case p.Correlation < -1 || p.Correlation > 1:
		return fmt.Errorf("%w: %s correlation %v", ErrInvalidParams, p.ID, p.Correlation)
	case p.LatencyMaxMs < p.LatencyMinMs:
		return fmt.Errorf("%w: %s latency bounds", ErrInvalidParams, p.ID)
	}
	return nil
}

// IsStress 压力类场景不要求夏普达标。
func (p Params) IsStress() bool {
	switch p.Family {
	case FamilyStress:
		return true
	case FamilyRegime:
		return p.Regime == RegimeFlashCrash || p.Regime == RegimeCrash
	}
	return false
}

// Result 场景运行结果，与 Params 一一对应。
type Result struct {
	ScenarioID     string        `json:"scenario_id"`
	Family         Family        `json:"family"`
	Success        bool          `json:"success"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	TotalReturn    float64       `json:"total_return"` // 百分比
	Sharpe         float64       `json:"sharpe"`
	Sortino        float64       `json:"sortino"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	WinRate        float64       `json:"win_rate"`
	ProfitFactor   float64       `json:"profit_factor"`
	TotalTrades    int           `json:"total_trades"`
	TotalFees      float64       `json:"total_fees"`
	Exhausted      bool          `json:"capital_exhausted,omitempty"`
	Passed         bool          `json:"passed"`
	FailureReasons []string      `json:"failure_reasons,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// DeriveSeed base + fnv32a(name) % 100000，跨进程稳定。
func DeriveSeed(base int64, name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return base + int64(h.Sum32()%100000)
}
