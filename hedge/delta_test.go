package hedge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/risk"
)

func newHedger(threshold, ratio float64) (*DeltaHedger, *risk.SimClock) {
	clock := risk.NewSimClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.HedgeThreshold = threshold
	cfg.HedgeRatio = ratio
	cfg.MaxHedgeLatency = time.Hour
	return NewDeltaHedger(cfg, clock, nil), clock
}

func TestCalculateHedgeSize_ThresholdFiveRatioPointEight(t *testing.T) {
	h, _ := newHedger(5, 0.8)
	h.UpdateInventory(10)
	size, side := h.CalculateHedgeSize()
	assert.InDelta(t, 4.0, size, 1e-12)
	assert.Equal(t, SideSell, side)
}

func TestCalculateHedgeSize(t *testing.T) {
	tests := []struct {
		name      string
		inventory float64
		minSize   float64
		wantSize  float64
		wantSide  Side
	}{
		{"阈值内", 4, 0, 0, SideNone},
		{"恰好等于阈值", 5, 0, 0, SideNone},
		{"空头越界", -8, 0, 2.4, SideBuy},
		{"低于最小对冲量", 5.1, 0.5, 0, SideNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHedger(5, 0.8)
			h.cfg.MinHedgeSize = tt.minSize
			h.UpdateInventory(tt.inventory)
			size, side := h.CalculateHedgeSize()
			assert.InDelta(t, tt.wantSize, size, 1e-9)
			assert.Equal(t, tt.wantSide, side)
		})
	}
}

func TestShouldHedge_PendingAndLatency(t *testing.T) {
	h, clock := newHedger(5, 0.8)
	h.UpdateInventory(3)
	assert.False(t, h.ShouldHedge(), "in band")

	h.UpdateInventory(7)
	assert.True(t, h.ShouldHedge())

	h.MarkPending()
	assert.False(t, h.ShouldHedge(), "pending hedge blocks")

	clock.Advance(30 * time.Minute)
	h.UpdateInventory(7.5)
	assert.False(t, h.ShouldHedge(), "breach start must not reset while still breached")

	clock.Advance(31 * time.Minute)
	assert.True(t, h.ShouldHedge(), "stalled breach forces hedge")

	h.UpdateInventory(1)
	assert.False(t, h.ShouldHedge())
}

func TestRecordHedgeMutatesInventory(t *testing.T) {
	h, _ := newHedger(5, 0.8)
	h.UpdateInventory(10)
	h.MarkPending()
	size, side := h.CalculateHedgeSize()
	h.RecordHedge(size, side, 100, 0.2, -1)

	assert.InDelta(t, 6.0, h.Inventory(), 1e-12)
	assert.False(t, h.Pending())
	hist := h.History()
	require.Len(t, hist, 1)
	assert.Equal(t, SideSell, hist[0].Side)
	assert.InDelta(t, 6.0, hist[0].InventoryAfter, 1e-12)
	assert.InDelta(t, 0.2, h.TotalCost(), 1e-12)

	h.RecordHedge(1, SideNone, 100, 0, 0)
	assert.Len(t, h.History(), 1, "SideNone is ignored")
}

func TestGetHedgeRecommendation(t *testing.T) {
	tests := []struct {
		name      string
		inventory float64
		urgency   Urgency
		strategy  Strategy
		tolerance float64
	}{
		{"低", 7, UrgencyLow, StrategyOpportunistic, 0},
		{"中", 8, UrgencyMedium, StrategyLimit, 0.0005},
		{"高", 12, UrgencyHigh, StrategyAggressiveLimit, 0.001},
		{"紧急", 16, UrgencyCritical, StrategyMarket, 0.005},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHedger(5, 0.8)
			h.UpdateInventory(tt.inventory)
			rec := h.GetHedgeRecommendation(100, nil)
			require.NotNil(t, rec)
			assert.Equal(t, tt.urgency, rec.Urgency)
			assert.Equal(t, tt.strategy, rec.Strategy)
			assert.Equal(t, SideSell, rec.Side)
			assert.InDelta(t, 100*(1-tt.tolerance), rec.LimitPrice, 1e-9)
			assert.InDelta(t, rec.HedgeSize*100*tt.tolerance, rec.EstimatedCost, 1e-9)
		})
	}
}

func TestGetHedgeRecommendation_BuySideAndMicroprice(t *testing.T) {
	h, _ := newHedger(5, 0.8)
	h.UpdateInventory(-20)
	mp := 101.0
	rec := h.GetHedgeRecommendation(100, &mp)
	require.NotNil(t, rec)
	assert.Equal(t, SideBuy, rec.Side)
	assert.InDelta(t, 101*1.005, rec.LimitPrice, 1e-9)

	h.UpdateInventory(0)
	assert.Nil(t, h.GetHedgeRecommendation(100, nil))
}
