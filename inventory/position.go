package inventory

import (
	"math"
	"sync"
)

// RoundTrip 一次减仓/平仓实现的盈亏。
type RoundTrip struct {
	Qty      float64 // 平掉的数量（绝对值）
	Entry    float64 // 平仓前的持仓均价
	Exit     float64
	Realized float64
	Long     bool // 被平掉的是多头
}

// Tracker 维护净仓位、加权平均成本与已实现盈亏。
type Tracker struct {
	mu         sync.RWMutex
	net        float64
	cost       float64
	realized   float64
	roundTrips []RoundTrip
}

// Update 根据成交数量调整仓位，返回本次成交实现的盈亏。
// 同向加仓按加权平均更新成本；反向成交先平旧仓再以成交价开新仓。
func (t *Tracker) Update(deltaQty float64, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if deltaQty == 0 {
		return 0
	}
	if t.net == 0 || sameSign(t.net, deltaQty) {
		totalValue := t.cost*t.net + price*deltaQty
		t.net += deltaQty
		t.cost = totalValue / t.net
		return 0
	}

	closed := math.Min(math.Abs(deltaQty), math.Abs(t.net))
	realized := closed * (price - t.cost)
	if t.net < 0 {
		realized = -realized
	}
	t.realized += realized
	t.roundTrips = append(t.roundTrips, RoundTrip{Qty: closed, Entry: t.cost, Exit: price, Realized: realized, Long: t.net > 0})

	t.net += deltaQty
	switch {
	case math.Abs(t.net) < 1e-12:
		t.net = 0
		t.cost = 0
	case !sameSign(t.net, -deltaQty):
		// 反手：剩余部分以成交价开仓
		t.cost = price
	}
	return realized
}

func (t *Tracker) NetExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

func (t *Tracker) AvgCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// Realized 累计已实现盈亏（不含手续费）。
func (t *Tracker) Realized() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

// RoundTrips 返回已实现记录副本。
func (t *Tracker) RoundTrips() []RoundTrip {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RoundTrip, len(t.roundTrips))
	copy(out, t.roundTrips)
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.net = 0
	t.cost = 0
	t.realized = 0
	t.roundTrips = nil
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
