// Package hedge 库存偏离目标时给出对冲建议。
package hedge

import (
	"math"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/risk"
)

// Side 对冲方向。
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Urgency 对冲紧急程度。
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Strategy 执行方式。
type Strategy string

const (
	StrategyOpportunistic   Strategy = "opportunistic"
	StrategyLimit           Strategy = "limit"
	StrategyAggressiveLimit Strategy = "aggressive_limit"
	StrategyMarket          Strategy = "market"
)

// slippageTolerance 各执行方式允许的价格让步（比例）。
var slippageTolerance = map[Strategy]float64{
	StrategyMarket:          0.005,
	StrategyAggressiveLimit: 0.001,
	StrategyLimit:           0.0005,
	StrategyOpportunistic:   0,
}

// Config DeltaHedger 参数。
type Config struct {
	TargetInventory float64       `yaml:"target_inventory"`
	HedgeThreshold  float64       `yaml:"hedge_threshold"`
	HedgeRatio      float64       `yaml:"hedge_ratio"`
	MinHedgeSize    float64       `yaml:"min_hedge_size"`
	MaxHedgeLatency time.Duration `yaml:"max_hedge_latency"`
}

func DefaultConfig() Config {
	return Config{
		HedgeThreshold:  5,
		HedgeRatio:      0.8,
		MinHedgeSize:    0.01,
		MaxHedgeLatency: 4 * time.Hour,
	}
}

// Recommendation 一次对冲建议，仅在当前评估内有效。
type Recommendation struct {
	HedgeSize     float64
	Side          Side
	Urgency       Urgency
	Strategy      Strategy
	LimitPrice    float64
	EstimatedCost float64
}

// Record 已执行的对冲。
type Record struct {
	Timestamp      time.Time
	Size           float64
	Side           Side
	Price          float64
	Cost           float64
	PnL            float64
	InventoryAfter float64
}

// DeltaHedger 监控库存偏离并计算对冲规模。非并发安全。
type DeltaHedger struct {
	cfg    Config
	clock  risk.Clock
	logger *zap.Logger

	inventory   float64
	breachStart time.Time
	pending     bool
	history     []Record
}

// NewDeltaHedger clock 为 nil 时使用真实时间。
func NewDeltaHedger(cfg Config, clock risk.Clock, logger *zap.Logger) *DeltaHedger {
	if clock == nil {
		clock = risk.NowUTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeltaHedger{
		cfg:       cfg,
		clock:     clock,
		logger:    logger.Named("hedge"),
		inventory: cfg.TargetInventory,
	}
}

func (h *DeltaHedger) Config() Config { return h.cfg }

// UpdateInventory 同步库存；首次越过阈值时记录开始时间，回到阈值内则清除。
func (h *DeltaHedger) UpdateInventory(inv float64) {
	h.inventory = inv
	h.trackBreach()
}

func (h *DeltaHedger) trackBreach() {
	if h.aboveThreshold() {
		if h.breachStart.IsZero() {
			h.breachStart = h.clock.Now()
		}
		return
	}
	h.breachStart = time.Time{}
}

// ShouldHedge 超过阈值且无挂起对冲；或越界持续超过 MaxHedgeLatency（无视挂起状态）。
func (h *DeltaHedger) ShouldHedge() bool {
	if !h.aboveThreshold() {
		return false
	}
	if !h.pending {
		return true
	}
	if h.cfg.MaxHedgeLatency > 0 && !h.breachStart.IsZero() &&
		h.clock.Now().Sub(h.breachStart) > h.cfg.MaxHedgeLatency {
		h.logger.Warn("hedge stalled, forcing",
			zap.Float64("deviation", h.Deviation()),
			zap.Duration("since_breach", h.clock.Now().Sub(h.breachStart)))
		return true
	}
	return false
}

// CalculateHedgeSize 对超出阈值带的部分按 HedgeRatio 对冲：size = (|dev|−threshold)·ratio。
// 在阈值内或小于 MinHedgeSize 时返回 (0, SideNone)。
func (h *DeltaHedger) CalculateHedgeSize() (float64, Side) {
	dev := h.Deviation()
	excess := math.Abs(dev) - h.cfg.HedgeThreshold
	if excess <= 0 {
		return 0, SideNone
	}
	size := excess * h.cfg.HedgeRatio
	if size <= 0 || size < h.cfg.MinHedgeSize {
		return 0, SideNone
	}
	if dev > 0 {
		return size, SideSell
	}
	return size, SideBuy
}

// GetHedgeRecommendation 根据偏离/阈值比划分紧急度并给出限价；无需对冲时返回 nil。
func (h *DeltaHedger) GetHedgeRecommendation(price float64, microprice *float64) *Recommendation {
	size, side := h.CalculateHedgeSize()
	if size == 0 || side == SideNone || price <= 0 {
		return nil
	}
	ref := price
	if microprice != nil && *microprice > 0 {
		ref = *microprice
	}

	ratio := math.Inf(1)
	if h.cfg.HedgeThreshold > 0 {
		ratio = math.Abs(h.Deviation()) / h.cfg.HedgeThreshold
	}
	urgency, strategy := classify(ratio)
	tol := slippageTolerance[strategy]

	limit := ref * (1 + tol)
	if side == SideSell {
		limit = ref * (1 - tol)
	}
	return &Recommendation{
		HedgeSize:     size,
		Side:          side,
		Urgency:       urgency,
		Strategy:      strategy,
		LimitPrice:    limit,
		EstimatedCost: size * ref * tol,
	}
}

func classify(ratio float64) (Urgency, Strategy) {
	switch {
	case ratio > 3.0:
		return UrgencyCritical, StrategyMarket
	case ratio > 2.0:
		return UrgencyHigh, StrategyAggressiveLimit
	case ratio > 1.5:
		return UrgencyMedium, StrategyLimit
	default:
		return UrgencyLow, StrategyOpportunistic
	}
}

// MarkPending 标记已有对冲单在途。
func (h *DeltaHedger) MarkPending() {
	h.pending = true
}

func (h *DeltaHedger) Pending() bool { return h.pending }

// RecordHedge 记录已执行的对冲，是对冲导致库存变化的唯一入口。
func (h *DeltaHedger) RecordHedge(size float64, side Side, price, cost, pnl float64) {
	switch side {
	case SideBuy:
		h.inventory += size
	case SideSell:
		h.inventory -= size
	default:
		return
	}
	h.pending = false
	// 仍越界时重新计时
	h.breachStart = time.Time{}
	h.trackBreach()

	h.history = append(h.history, Record{
		Timestamp:      h.clock.Now(),
		Size:           size,
		Side:           side,
		Price:          price,
		Cost:           cost,
		PnL:            pnl,
		InventoryAfter: h.inventory,
	})
	h.logger.Debug("hedge recorded",
		zap.Float64("size", size),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("inventory", h.inventory))
}

// Inventory 当前库存。
func (h *DeltaHedger) Inventory() float64 { return h.inventory }

// Deviation 库存相对目标的偏离。
func (h *DeltaHedger) Deviation() float64 { return h.inventory - h.cfg.TargetInventory }

// History 返回对冲历史副本。
func (h *DeltaHedger) History() []Record {
	out := make([]Record, len(h.history))
	copy(out, h.history)
	return out
}

// TotalCost 累计对冲成本。
func (h *DeltaHedger) TotalCost() float64 {
	total := 0.0
	for _, r := range h.history {
		total += r.Cost
	}
	return total
}

func (h *DeltaHedger) Reset() {
	h.inventory = h.cfg.TargetInventory
	h.breachStart = time.Time{}
	h.pending = false
	h.history = nil
}

func (h *DeltaHedger) aboveThreshold() bool {
	return math.Abs(h.Deviation()) > h.cfg.HedgeThreshold
}
