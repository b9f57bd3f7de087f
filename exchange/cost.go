package exchange

import (
	"math"
	"sort"

	"perp-mm-lab/market"
)

// Venue 一个可成交场所的盘口与吃单费率。
type Venue struct {
	Name     string
	Book     market.BookSnapshot
	TakerFee float64
}

// VenueCost 在某场所吃单 qty 的估算结果。EffectivePrice 含手续费。
type VenueCost struct {
	Venue          string  `json:"venue"`
	AvgPrice       float64 `json:"avg_price"`
	Filled         float64 `json:"filled"`
	Fee            float64 `json:"fee"`
	EffectivePrice float64 `json:"effective_price"`
	Complete       bool    `json:"complete"`
}

// CostEstimator 逐档吃单估算各场所的成交成本并排序。尽力而为，不考虑盘口在下单前变化。
type CostEstimator struct{}

// Estimate 结果按可完全成交优先，其次买单有效价升序、卖单降序。
func (CostEstimator) Estimate(side Side, qty float64, venues []Venue) []VenueCost {
	depthSide := market.DepthSideAsk
	if side == Sell {
		depthSide = market.DepthSideBid
	}
	out := make([]VenueCost, 0, len(venues))
	for _, v := range venues {
		avg, filled := v.Book.EstimateFillPrice(depthSide, qty)
		if filled <= 0 {
			continue
		}
		fee := avg * filled * v.TakerFee
		eff := avg * (1 + v.TakerFee)
		if side == Sell {
			eff = avg * (1 - v.TakerFee)
		}
		out = append(out, VenueCost{
			Venue:          v.Name,
			AvgPrice:       avg,
			Filled:         filled,
			Fee:            fee,
			EffectivePrice: eff,
			Complete:       math.Abs(filled-qty) < 1e-12,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Complete != out[j].Complete {
			return out[i].Complete
		}
		if side == Sell {
			return out[i].EffectivePrice > out[j].EffectivePrice
		}
		return out[i].EffectivePrice < out[j].EffectivePrice
	})
	return out
}

// Best 返回排名第一的场所。
func (e CostEstimator) Best(side Side, qty float64, venues []Venue) (VenueCost, bool) {
	r := e.Estimate(side, qty, venues)
	if len(r) == 0 {
		return VenueCost{}, false
	}
	return r[0], true
}
