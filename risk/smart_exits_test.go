package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"perp-mm-lab/market"
)

func TestSmartExits_Levels(t *testing.T) {
	s := NewSmartExits(DefaultSmartExitConfig())
	tests := []struct {
		name   string
		long   bool
		regime market.MarketRegime
		sl, tp float64
	}{
		{"多头高波动放宽", true, market.RegimeHighVol, 97, 104.5},
		{"多头平静收窄", true, market.RegimeCalm, 98.5, 102.25},
		{"多头趋势放大止盈", true, market.RegimeTrendUp, 98, 104.5},
		{"空头高波动", false, market.RegimeHighVol, 103, 95.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl, tp := s.Levels(tt.long, 100, 1, tt.regime)
			assert.InDelta(t, tt.sl, sl, 1e-9)
			assert.InDelta(t, tt.tp, tp, 1e-9)
		})
	}

	sl, tp := s.Levels(true, 100, 0, market.RegimeCalm)
	assert.Zero(t, sl)
	assert.Zero(t, tp)
}

func TestSmartExits_Trailing(t *testing.T) {
	s := NewSmartExits(DefaultSmartExitConfig())

	// 浮盈未达到激活比例，止损不动
	stop, exit := s.Update(true, 100, 98, 104, 1, market.Bar{Open: 100, High: 101, Low: 99.5, Close: 100.5})
	assert.Equal(t, 98.0, stop)
	assert.False(t, exit)

	// 最高价 103 >= 100 + 0.5*4，止损上移到 close-1.5
	stop, exit = s.Update(true, 100, 98, 104, 1, market.Bar{Open: 101, High: 103, Low: 100.5, Close: 102.5})
	assert.InDelta(t, 101, stop, 1e-9)
	assert.False(t, exit)

	// 空头同理
	stop, _ = s.Update(false, 100, 102, 96, 1, market.Bar{Open: 99, High: 99.5, Low: 97, Close: 97.5})
	assert.InDelta(t, 99, stop, 1e-9)
}

func TestATR(t *testing.T) {
	bars := make(market.Series, 30)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = market.Bar{Timestamp: start.Add(time.Duration(i) * time.Hour), Open: 100, High: 101, Low: 99, Close: 100}
	}
	assert.InDelta(t, 2, ATR(bars, 14), 1e-9)
	assert.Zero(t, ATR(bars[:5], 14))
}
