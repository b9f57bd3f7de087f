package market

import (
	"sort"
	"sync"
	"time"
)

// DepthSide 深度方向。
type DepthSide int

const (
	DepthSideBid DepthSide = iota
	DepthSideAsk
)

// Level 单个价格档位。
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// BookSnapshot 不可变的盘口快照，Bids 从高到低、Asks 从低到高。
type BookSnapshot struct {
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// Best 返回最好买/卖价；若不存在则为 0。
func (s BookSnapshot) Best() (bestBid, bestAsk float64) {
	if len(s.Bids) > 0 {
		bestBid = s.Bids[0].Price
	}
	if len(s.Asks) > 0 {
		bestAsk = s.Asks[0].Price
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (s BookSnapshot) Mid() float64 {
	bid, ask := s.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Microprice 按对手盘数量加权的中间价；数量为 0 时退化为 Mid。
func (s BookSnapshot) Microprice() float64 {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0
	}
	b, a := s.Bids[0], s.Asks[0]
	total := b.Qty + a.Qty
	if total <= 0 {
		return s.Mid()
	}
	return (b.Price*a.Qty + a.Price*b.Qty) / total
}

// Imbalance 前 levels 档的买卖量失衡，范围 [-1,1]。
func (s BookSnapshot) Imbalance(levels int) float64 {
	if levels <= 0 {
		return 0
	}
	return CalculateImbalance(sumQty(s.Bids, levels), sumQty(s.Asks, levels))
}

// Spread returns bestAsk-bestBid, 0 when one side is empty.
func (s BookSnapshot) Spread() float64 {
	bid, ask := s.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// EstimateFillPrice 按深度逐档吃单，返回成交均价与实际可成交数量。
func (s BookSnapshot) EstimateFillPrice(side DepthSide, qty float64) (vwap float64, filled float64) {
	levels := s.Asks
	if side == DepthSideBid {
		levels = s.Bids
	}
	notional := 0.0
	for _, lv := range levels {
		if filled >= qty {
			break
		}
		take := lv.Qty
		if filled+take > qty {
			take = qty - filled
		}
		notional += take * lv.Price
		filled += take
	}
	if filled == 0 {
		return 0, 0
	}
	return notional / filled, filled
}

func sumQty(levels []Level, n int) float64 {
	total := 0.0
	for i, lv := range levels {
		if i >= n {
			break
		}
		total += lv.Qty
	}
	return total
}

// OrderBook 维护简单的价格->数量映射。
type OrderBook struct {
	mu   sync.RWMutex
	bids map[float64]float64 // price -> qty
	asks map[float64]float64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// ApplyDelta 应用增量更新，qty 为 0 表示删除该档。
func (ob *OrderBook) ApplyDelta(bidDelta map[float64]float64, askDelta map[float64]float64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for p, q := range bidDelta {
		if q == 0 {
			delete(ob.bids, p)
		} else {
			ob.bids[p] = q
		}
	}
	for p, q := range askDelta {
		if q == 0 {
			delete(ob.asks, p)
		} else {
			ob.asks[p] = q
		}
	}
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid float64, bestAsk float64) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	for p := range ob.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range ob.asks {
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// BidPrices 买价从高到低。
func (ob *OrderBook) BidPrices() []float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]float64, 0, len(ob.bids))
	for p := range ob.bids {
		out = append(out, p)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// AskPrices 卖价从低到高。
func (ob *OrderBook) AskPrices() []float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]float64, 0, len(ob.asks))
	for p := range ob.asks {
		out = append(out, p)
	}
	sort.Float64s(out)
	return out
}

func (ob *OrderBook) BidVolume(price float64) float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids[price]
}

func (ob *OrderBook) AskVolume(price float64) float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks[price]
}

// Snapshot 导出前 depth 档（depth<=0 表示全部）。
func (ob *OrderBook) Snapshot(depth int, ts time.Time) BookSnapshot {
	snap := BookSnapshot{Timestamp: ts}
	for i, p := range ob.BidPrices() {
		if depth > 0 && i >= depth {
			break
		}
		snap.Bids = append(snap.Bids, Level{Price: p, Qty: ob.BidVolume(p)})
	}
	for i, p := range ob.AskPrices() {
		if depth > 0 && i >= depth {
			break
		}
		snap.Asks = append(snap.Asks, Level{Price: p, Qty: ob.AskVolume(p)})
	}
	return snap
}

// EstimateFillPrice 估算吃掉 qty 数量需要到达的最差价格及累计可用量。
func (ob *OrderBook) EstimateFillPrice(side DepthSide, qty float64) (price float64, cumulative float64) {
	prices := ob.AskPrices()
	vol := ob.AskVolume
	if side == DepthSideBid {
		prices = ob.BidPrices()
		vol = ob.BidVolume
	}
	for _, p := range prices {
		cumulative += vol(p)
		price = p
		if cumulative >= qty {
			break
		}
	}
	return price, cumulative
}
