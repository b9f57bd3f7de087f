package risk

import (
	"sync"
	"time"
)

type sideKey struct {
	symbol string
	buy    bool
}

// LatencyGuard 同一交易对同一方向两次下单至少间隔 MinInterval。
type LatencyGuard struct {
	MinInterval time.Duration

	mu    sync.Mutex
	last  map[sideKey]time.Time
	clock Clock
}

// NewLatencyGuard clock 为 nil 时使用真实时间。
func NewLatencyGuard(minInterval time.Duration, clock Clock) *LatencyGuard {
	if clock == nil {
		clock = NowUTC
	}
	return &LatencyGuard{MinInterval: minInterval, clock: clock, last: make(map[sideKey]time.Time)}
}

func (g *LatencyGuard) PreOrder(symbol string, deltaQty float64) error {
	if g == nil || g.MinInterval <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = make(map[sideKey]time.Time)
	}
	key := sideKey{symbol: symbol, buy: deltaQty >= 0}
	now := g.clock.Now()
	if prev, ok := g.last[key]; ok && now.Sub(prev) < g.MinInterval {
		return ErrTooFrequent
	}
	g.last[key] = now
	return nil
}
