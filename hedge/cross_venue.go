package hedge

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"perp-mm-lab/risk"
)

// VenueHedge 跨交易所对冲建议。
type VenueHedge struct {
	Venue string
	Size  float64
	Side  Side
}

// CrossVenueDeltaHedger 汇总各交易所库存后复用 DeltaHedger 的对冲逻辑。
type CrossVenueDeltaHedger struct {
	*DeltaHedger
	venues map[string]float64
}

func NewCrossVenueDeltaHedger(cfg Config, clock risk.Clock, logger *zap.Logger) *CrossVenueDeltaHedger {
	return &CrossVenueDeltaHedger{
		DeltaHedger: NewDeltaHedger(cfg, clock, logger),
		venues:      make(map[string]float64),
	}
}

// UpdateVenueInventory 更新单个交易所库存并以总库存驱动基础对冲器。
func (c *CrossVenueDeltaHedger) UpdateVenueInventory(venue string, inv float64) {
	c.venues[venue] = inv
	c.DeltaHedger.UpdateInventory(c.TotalInventory())
}

// TotalInventory 所有交易所库存之和。
func (c *CrossVenueDeltaHedger) TotalInventory() float64 {
	total := 0.0
	for _, v := range c.venues {
		total += v
	}
	return total
}

// VenueInventory 返回各交易所库存副本。
func (c *CrossVenueDeltaHedger) VenueInventory() map[string]float64 {
	out := make(map[string]float64, len(c.venues))
	for k, v := range c.venues {
		out[k] = v
	}
	return out
}

// SuggestVenueHedge 选择绝对敞口最大的交易所执行对冲；同值按名称排序。
func (c *CrossVenueDeltaHedger) SuggestVenueHedge() (VenueHedge, bool) {
	size, side := c.CalculateHedgeSize()
	if size == 0 || len(c.venues) == 0 {
		return VenueHedge{}, false
	}
	names := make([]string, 0, len(c.venues))
	for name := range c.venues {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if math.Abs(c.venues[name]) > math.Abs(c.venues[best]) {
			best = name
		}
	}
	return VenueHedge{Venue: best, Size: size, Side: side}, true
}

// RecordVenueHedge 记录在某交易所执行的对冲，同时更新该交易所库存。
func (c *CrossVenueDeltaHedger) RecordVenueHedge(venue string, size float64, side Side, price, cost, pnl float64) {
	switch side {
	case SideBuy:
		c.venues[venue] += size
	case SideSell:
		c.venues[venue] -= size
	default:
		return
	}
	c.DeltaHedger.RecordHedge(size, side, price, cost, pnl)
}
