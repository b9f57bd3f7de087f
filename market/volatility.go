package market

import "math"

// VolatilityCalculator 滚动窗口内对数收益率的标准差（单周期，不做年化）。
type VolatilityCalculator struct {
	windowSize int
	prices     []float64
}

// NewVolatilityCalculator creates a new volatility calculator
func NewVolatilityCalculator(windowSize int) *VolatilityCalculator {
	if windowSize < 2 {
		windowSize = 2
	}
	return &VolatilityCalculator{
		windowSize: windowSize,
		prices:     make([]float64, 0, windowSize+1),
	}
}

// AddPrice 加入新价格；非正价格被忽略。
func (v *VolatilityCalculator) AddPrice(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	v.prices = append(v.prices, price)
	if len(v.prices) > v.windowSize {
		v.prices = v.prices[1:]
	}
}

// RealizedVol 返回窗口内对数收益率的样本标准差；不足两个收益率时为 0。
func (v *VolatilityCalculator) RealizedVol() float64 {
	return StdDev(LogReturns(v.prices))
}

// IsReady checks if we have enough data to calculate volatility
func (v *VolatilityCalculator) IsReady() bool {
	return len(v.prices) >= 3
}

// Reset 清空窗口。
func (v *VolatilityCalculator) Reset() {
	v.prices = v.prices[:0]
}

// LogReturns 相邻价格的对数收益率，跳过非正价格。
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			out = append(out, math.Log(prices[i]/prices[i-1]))
		}
	}
	return out
}

// Mean 算术平均；空切片为 0。
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev 样本标准差（n-1）；少于两个样本为 0。
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
