package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"perp-mm-lab/market"
)

func TestFillProbability_Steps(t *testing.T) {
	tests := []struct {
		name  string
		quote float64
		side  Side
		want  float64
	}{
		{"买单改善最优价", 100.01, Buy, 0.9},
		{"买单挂在最优价", 100, Buy, 0.9},
		{"买单落后半个bp", 99.995, Buy, 0.7},
		{"买单落后2bp", 99.98, Buy, 0.5},
		{"买单落后4bp", 99.96, Buy, 0.3},
		{"买单落后8bp", 99.92, Buy, 0.15},
		{"买单落后15bp", 99.85, Buy, 0.05},
		{"买单落后50bp", 99.5, Buy, 0.01},
		{"卖单落后3bp", 100.03, Sell, 0.3},
		{"卖单穿越", 99.9, Sell, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FillProbability(tt.quote, tt.side, 100, 0), 1e-12)
		})
	}
}

func TestFillProbability_DwellSaturates(t *testing.T) {
	best := 100.0
	quote := 99.85 // 15bp → 0.05
	assert.InDelta(t, 0.05*1.5, FillProbability(quote, Buy, best, 5), 1e-12)
	assert.InDelta(t, 0.05*2.0, FillProbability(quote, Buy, best, 10), 1e-12)
	assert.InDelta(t, 0.05*2.0, FillProbability(quote, Buy, best, 50), 1e-12)
	assert.Equal(t, 1.0, FillProbability(best, Buy, best, 3), "capped at 1")
	assert.Equal(t, 0.0, FillProbability(0, Buy, best, 0))
}

func TestTouched(t *testing.T) {
	tests := []struct {
		name  string
		quote float64
		side  Side
		want  bool
	}{
		{"买单在区间内", 99.5, Buy, true},
		{"买单等于最低价", 99, Buy, true},
		{"买单低于最低价", 98.9, Buy, false},
		{"卖单在区间内", 100.5, Sell, true},
		{"卖单等于最高价", 101, Sell, true},
		{"卖单高于最高价", 101.1, Sell, false},
		{"无效报价", 0, Buy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Touched(tt.quote, tt.side, 99, 101))
		})
	}
}

func TestFillSimulator_Deterministic(t *testing.T) {
	a := NewFillSimulator(rand.New(rand.NewSource(7)))
	b := NewFillSimulator(rand.New(rand.NewSource(7)))
	for i := 0; i < 100; i++ {
		fa, _ := a.TryFill(99.97, Buy, 100, i%12)
		fb, _ := b.TryFill(99.97, Buy, 100, i%12)
		assert.Equal(t, fa, fb)
	}
}

func TestFillSimulator_AgainstBook(t *testing.T) {
	f := NewFillSimulator(rand.New(rand.NewSource(1)))
	book := market.BookSnapshot{
		Bids: []market.Level{{Price: 100, Qty: 1}},
		Asks: []market.Level{{Price: 100.1, Qty: 1}},
	}
	assert.InDelta(t, 0.9, f.ProbabilityAgainstBook(100, Buy, book, 0), 1e-12)
	assert.InDelta(t, 0.9, f.ProbabilityAgainstBook(100.1, Sell, book, 0), 1e-12)
	assert.Less(t, f.ProbabilityAgainstBook(100.2, Sell, book, 0), 0.9)
}
