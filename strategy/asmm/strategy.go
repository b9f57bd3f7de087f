package asmm

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"perp-mm-lab/metrics"
)

// MarketMaker Avellaneda-Stoikov 做市策略，叠加 OFI、Kyle λ 与短周期波动率调整。
// 非并发安全，每个回测实例独占一个。
type MarketMaker struct {
	cfg    Config
	logger *zap.Logger

	refPrice   float64
	volatility float64
	volSet     bool
	shortVol   *float64
	ofi        float64
	kyleLambda float64

	inventory float64
	elapsed   float64
	steps     int
	history   []InventoryRecord
}

// NewMarketMaker 校验配置并创建策略；logger 为 nil 时使用 Nop。
func NewMarketMaker(cfg Config, logger *zap.Logger) (*MarketMaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketMaker{
		cfg:       cfg,
		logger:    logger.Named("asmm"),
		inventory: cfg.TargetInventory,
	}, nil
}

// Config returns the strategy configuration.
func (m *MarketMaker) Config() Config {
	return m.cfg
}

// UpdateMarketData 更新行情状态并推进内部时钟。
// 时钟每次推进 Dt，超过 TerminalTime 后归零；它不代表真实经过的时间。
func (m *MarketMaker) UpdateMarketData(s MarketState) {
	m.refPrice = s.MidPrice
	if s.Microprice != nil && *s.Microprice > 0 {
		m.refPrice = *s.Microprice
	}
	m.volatility = s.Volatility
	m.volSet = !math.IsNaN(s.Volatility) && s.Volatility >= 0
	if s.ShortVolatility != nil && *s.ShortVolatility >= 0 && !math.IsNaN(*s.ShortVolatility) {
		v := *s.ShortVolatility
		m.shortVol = &v
	} else {
		m.shortVol = nil
	}
	m.ofi = s.OrderFlowImbalance
	m.kyleLambda = s.KyleLambda
	m.inventory = s.Inventory

	m.elapsed += m.cfg.Dt
	if m.elapsed > m.cfg.TerminalTime {
		m.elapsed = 0
	}
}

// ComputeReservationPrice r = s − q·γ·σ²·(T−t) + OFISensitivity·OFI·s。
// 参考价或波动率未设置时 ok=false，调用方不应报价。
func (m *MarketMaker) ComputeReservationPrice() (float64, bool) {
	if m.refPrice <= 0 || math.IsNaN(m.refPrice) || !m.volSet {
		return 0, false
	}
	sigma := m.effectiveVolatility()
	q := m.deviation()
	r := m.refPrice - q*m.cfg.RiskAversion*sigma*sigma*m.timeRemaining()
	r += m.cfg.OFISensitivity * m.ofi * m.refPrice
	return r, true
}

// ComputeQuotes bid=(r−δ)(1−skew)，ask=(r+δ)(1−skew)。
func (m *MarketMaker) ComputeQuotes() (bid, ask float64, ok bool) {
	r, ok := m.ComputeReservationPrice()
	if !ok {
		return 0, 0, false
	}
	half := m.ComputeOptimalSpread()
	skew := m.inventorySkew()

	bid = (r - half) * (1 - skew)
	ask = (r + half) * (1 - skew)
	if bid <= 0 || ask <= 0 || bid >= ask {
		m.logger.Debug("degenerate quotes", zap.Float64("bid", bid), zap.Float64("ask", ask))
		return 0, 0, false
	}

	metrics.UpdateStrategyMetrics(r, half, m.inventory)
	return bid, ask, true
}

// Quotes 生成受库存上限约束的报价列表。
func (m *MarketMaker) Quotes() []Quote {
	bid, ask, ok := m.ComputeQuotes()
	if !ok {
		return nil
	}
	quotes := make([]Quote, 0, 2)
	if m.ShouldQuoteSide(Bid) {
		quotes = append(quotes, Quote{Price: bid, Size: m.cfg.OrderSize, Side: Bid})
		metrics.IncrementQuotesGenerated(string(Bid))
	}
	if m.ShouldQuoteSide(Ask) {
		quotes = append(quotes, Quote{Price: ask, Size: m.cfg.OrderSize, Side: Ask})
		metrics.IncrementQuotesGenerated(string(Ask))
	}
	return quotes
}

// ShouldQuoteSide 库存偏离达到 +MaxInventory 时停止买报价，达到 −MaxInventory 时停止卖报价。
// MaxInventory 为 0 时任何同向库存都会停掉该侧。
func (m *MarketMaker) ShouldQuoteSide(side Side) bool {
	q := m.deviation()
	switch side {
	case Bid:
		return q < m.cfg.MaxInventory
	case Ask:
		return q > -m.cfg.MaxInventory
	default:
		return false
	}
}

// UpdateInventory 成交回调：带符号累加并记录历史。
func (m *MarketMaker) UpdateInventory(qty, price float64) {
	m.inventory += qty
	m.steps++
	m.history = append(m.history, InventoryRecord{
		Step:      m.steps,
		Qty:       qty,
		Price:     price,
		Inventory: m.inventory,
	})
}

// Inventory 当前库存。
func (m *MarketMaker) Inventory() float64 {
	return m.inventory
}

// InventoryHistory 返回库存历史副本。
func (m *MarketMaker) InventoryHistory() []InventoryRecord {
	out := make([]InventoryRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Reset 清空行情、库存与时钟。
func (m *MarketMaker) Reset() {
	m.refPrice = 0
	m.volatility = 0
	m.volSet = false
	m.shortVol = nil
	m.ofi = 0
	m.kyleLambda = 0
	m.inventory = m.cfg.TargetInventory
	m.elapsed = 0
	m.steps = 0
	m.history = nil
}

func (m *MarketMaker) String() string {
	return fmt.Sprintf("asmm(γ=%.3g k=%.3g inv=%.4g)", m.cfg.RiskAversion, m.cfg.OrderArrivalK, m.inventory)
}

func (m *MarketMaker) deviation() float64 {
	return m.inventory - m.cfg.TargetInventory
}

func (m *MarketMaker) effectiveVolatility() float64 {
	if m.shortVol != nil {
		return *m.shortVol
	}
	if m.volatility < 0 || math.IsNaN(m.volatility) {
		return 0
	}
	return m.volatility
}

// timeRemaining T−t，下限为一个 Dt。
func (m *MarketMaker) timeRemaining() float64 {
	return math.Max(m.cfg.TerminalTime-m.elapsed, m.cfg.Dt)
}
