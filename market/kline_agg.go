package market

import (
	"sync"
	"time"
)

// BarAggregator 从成交/标记价格流生成固定周期的 Bar。
type BarAggregator struct {
	Interval time.Duration
	mu       sync.Mutex
	current  *Bar
}

func NewBarAggregator(interval time.Duration) *BarAggregator {
	return &BarAggregator{Interval: interval}
}

// OnTrade 更新当前 Bar；周期结束时返回已闭合的 Bar，否则返回 nil。
func (a *BarAggregator) OnTrade(price, qty float64, ts time.Time) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || ts.Sub(a.current.Timestamp) >= a.Interval {
		var closed *Bar
		if a.current != nil {
			closed = a.current
		}
		a.current = &Bar{
			Timestamp: ts.Truncate(a.Interval),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    qty,
		}
		return closed
	}
	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	a.current.Volume += qty
	return nil
}

// Current 返回当前未闭合 Bar 的副本。
func (a *BarAggregator) Current() (Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Bar{}, false
	}
	return *a.current, true
}
