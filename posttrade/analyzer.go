// Package posttrade 成交后的 markout 分析，用于度量逆向选择。
package posttrade

import (
	"sync"
)

// FillRecord 一笔成交及其在短/长两个观察期后的中间价。
type FillRecord struct {
	FillPrice  float64
	FillBar    int
	Side       string // BUY / SELL
	ShortMark  float64
	LongMark   float64
	shortReady bool
	longReady  bool
}

// Stats contains statistics computed by the analyzer
type Stats struct {
	AdverseSelectionRate float64
	AvgMarkoutShort      float64 // 以成交价为基准的收益率
	AvgMarkoutLong       float64
	TotalFills           int
	AnalyzedFills        int
}

// Analyzer 以K线为时间单位跟踪成交后的价格变化。
// 做市买单成交后价格下跌（卖单成交后价格上涨）计为逆向选择。
type Analyzer struct {
	mu           sync.RWMutex
	shortHorizon int
	longHorizon  int
	fills        map[string]*FillRecord
	open         []string
}

// NewAnalyzer horizons 以K线根数计，非正值分别取 1 和 5。
func NewAnalyzer(shortHorizon, longHorizon int) *Analyzer {
	if shortHorizon <= 0 {
		shortHorizon = 1
	}
	if longHorizon <= shortHorizon {
		longHorizon = shortHorizon + 4
	}
	return &Analyzer{
		shortHorizon: shortHorizon,
		longHorizon:  longHorizon,
		fills:        make(map[string]*FillRecord),
	}
}

// OnFill records a filled order
func (a *Analyzer) OnFill(orderID string, price float64, side string, bar int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fills[orderID] = &FillRecord{FillPrice: price, FillBar: bar, Side: side}
	a.open = append(a.open, orderID)
}

// OnMark 在每根K线收盘时调用，填充到期的观察价格。
func (a *Analyzer) OnMark(bar int, mid float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	remaining := a.open[:0]
	for _, id := range a.open {
		rec := a.fills[id]
		age := bar - rec.FillBar
		if !rec.shortReady && age >= a.shortHorizon {
			rec.ShortMark = mid
			rec.shortReady = true
		}
		if !rec.longReady && age >= a.longHorizon {
			rec.LongMark = mid
			rec.longReady = true
		}
		if !rec.longReady {
			remaining = append(remaining, id)
		}
	}
	a.open = remaining
}

// Stats computes and returns statistics
func (a *Analyzer) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{TotalFills: len(a.fills)}
	var adverse, analyzed, longCount int
	var sumShort, sumLong float64

	for _, rec := range a.fills {
		if !rec.shortReady || rec.FillPrice <= 0 {
			continue
		}
		analyzed++
		m := markout(rec.Side, rec.FillPrice, rec.ShortMark)
		sumShort += m
		if m < 0 {
			adverse++
		}
		if rec.longReady {
			longCount++
			sumLong += markout(rec.Side, rec.FillPrice, rec.LongMark)
		}
	}

	stats.AnalyzedFills = analyzed
	if analyzed > 0 {
		stats.AdverseSelectionRate = float64(adverse) / float64(analyzed)
		stats.AvgMarkoutShort = sumShort / float64(analyzed)
	}
	if longCount > 0 {
		stats.AvgMarkoutLong = sumLong / float64(longCount)
	}
	return stats
}

// Reset 清空所有记录。
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fills = make(map[string]*FillRecord)
	a.open = nil
}

func markout(side string, fill, mark float64) float64 {
	if side == "BUY" || side == "buy" {
		return (mark - fill) / fill
	}
	return (fill - mark) / fill
}
