package market

import "math"

// MarketRegime represents different market conditions
type MarketRegime int

const (
	RegimeCalm MarketRegime = iota
	RegimeTrendUp
	RegimeTrendDown
	RegimeHighVol
)

func (r MarketRegime) String() string {
	switch r {
	case RegimeTrendUp:
		return "trend_up"
	case RegimeTrendDown:
		return "trend_down"
	case RegimeHighVol:
		return "high_vol"
	default:
		return "calm"
	}
}

// RegimeDetector 基于短/长均线偏离与波动率阈值判断市场状态。
type RegimeDetector struct {
	volThresholdLow         float64
	volThresholdHigh        float64
	priceDeviationThreshold float64
	shortMA                 []float64
	longMA                  []float64
	shortWindow             int
	longWindow              int
	vol                     *VolatilityCalculator
}

// NewRegimeDetector creates a new regime detector
func NewRegimeDetector(
	volThresholdLow float64,
	volThresholdHigh float64,
	priceDeviationThreshold float64,
	shortWindow int,
	longWindow int) *RegimeDetector {

	return &RegimeDetector{
		volThresholdLow:         volThresholdLow,
		volThresholdHigh:        volThresholdHigh,
		priceDeviationThreshold: priceDeviationThreshold,
		shortMA:                 make([]float64, 0, shortWindow),
		longMA:                  make([]float64, 0, longWindow),
		shortWindow:             shortWindow,
		longWindow:              longWindow,
		vol:                     NewVolatilityCalculator(longWindow),
	}
}

// DefaultRegimeDetector 适用于小时线的默认参数。
func DefaultRegimeDetector() *RegimeDetector {
	return NewRegimeDetector(0.004, 0.02, 0.01, 5, 20)
}

// AddPrice adds a new price for moving average calculation
func (r *RegimeDetector) AddPrice(price float64) {
	r.shortMA = append(r.shortMA, price)
	if len(r.shortMA) > r.shortWindow {
		r.shortMA = r.shortMA[1:]
	}
	r.longMA = append(r.longMA, price)
	if len(r.longMA) > r.longWindow {
		r.longMA = r.longMA[1:]
	}
	r.vol.AddPrice(price)
}

// Update 加入价格并用内部波动率估计判断状态。
func (r *RegimeDetector) Update(price float64) MarketRegime {
	r.AddPrice(price)
	return r.DetectRegime(r.vol.RealizedVol())
}

// DetectRegime detects the current market regime
func (r *RegimeDetector) DetectRegime(volatility float64) MarketRegime {
	if volatility > r.volThresholdHigh {
		return RegimeHighVol
	}

	if len(r.longMA) >= r.longWindow && len(r.shortMA) >= r.shortWindow {
		longAvg := Mean(r.longMA)
		shortAvg := Mean(r.shortMA)
		if longAvg > 0 {
			deviation := math.Abs(shortAvg-longAvg) / longAvg
			if deviation > r.priceDeviationThreshold {
				if shortAvg > longAvg {
					return RegimeTrendUp
				}
				return RegimeTrendDown
			}
		}
	}

	return RegimeCalm
}

// IsLowVol 波动率是否低于下限阈值。
func (r *RegimeDetector) IsLowVol(volatility float64) bool {
	return volatility < r.volThresholdLow
}

// IsTrendRegime checks if the current regime is a trend regime
func (r *RegimeDetector) IsTrendRegime(regime MarketRegime) bool {
	return regime == RegimeTrendUp || regime == RegimeTrendDown
}

// IsHighVolatilityRegime checks if the current regime is high volatility
func (r *RegimeDetector) IsHighVolatilityRegime(regime MarketRegime) bool {
	return regime == RegimeHighVol
}
