package posttrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzer_OnFill(t *testing.T) {
	analyzer := NewAnalyzer(1, 5)
	analyzer.OnFill("order1", 99.5, "BUY", 0)

	stats := analyzer.Stats()
	if stats.TotalFills != 1 {
		t.Errorf("Expected 1 total fill, got %d", stats.TotalFills)
	}
	if stats.AnalyzedFills != 0 {
		t.Errorf("Expected 0 analyzed fills before any mark, got %d", stats.AnalyzedFills)
	}
}

func TestAnalyzer_Stats(t *testing.T) {
	analyzer := NewAnalyzer(1, 3)

	analyzer.OnFill("buyAdverse", 100, "BUY", 0)   // 买后下跌
	analyzer.OnFill("sellAdverse", 100, "SELL", 0) // 卖后上涨
	analyzer.OnFill("buyGood", 100, "BUY", 1)

	analyzer.OnMark(1, 99)
	analyzer.OnMark(2, 101)
	analyzer.OnMark(3, 102)

	stats := analyzer.Stats()
	assert.Equal(t, 3, stats.TotalFills)
	assert.Equal(t, 3, stats.AnalyzedFills)
	// buyAdverse: 99 → 逆向；sellAdverse: 99 → 有利；buyGood: 101 → 有利
	assert.InDelta(t, 1.0/3.0, stats.AdverseSelectionRate, 1e-9)
	assert.InDelta(t, (-0.01+0.01+0.01)/3, stats.AvgMarkoutShort, 1e-9)
	// 长周期仅前两笔到期（mark 102）
	assert.InDelta(t, (0.02-0.02)/2, stats.AvgMarkoutLong, 1e-9)
}

func TestAnalyzer_DefaultsAndReset(t *testing.T) {
	analyzer := NewAnalyzer(0, 0)
	assert.Equal(t, 1, analyzer.shortHorizon)
	assert.Equal(t, 5, analyzer.longHorizon)

	analyzer.OnFill("a", 100, "SELL", 0)
	analyzer.OnMark(1, 101)
	assert.Equal(t, 1.0, analyzer.Stats().AdverseSelectionRate)

	analyzer.Reset()
	assert.Equal(t, Stats{}, analyzer.Stats())
}
