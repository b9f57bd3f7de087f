// Package sim 成交概率、账户记账、延迟与故障注入等执行摩擦模型。
package sim

import (
	"math/rand"

	"perp-mm-lab/market"
)

// Side 报价方向。
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// MaxDwellPeriods 挂单停留加成的饱和周期数。
const MaxDwellPeriods = 10

// fillSteps 距离最优价（bps）到成交概率的阶梯。
var fillSteps = []struct {
	maxBps float64
	prob   float64
}{
	{0, 0.9},
	{1, 0.7},
	{2.5, 0.5},
	{5, 0.3},
	{10, 0.15},
	{20, 0.05},
}

const farFillProb = 0.01

// DistanceBps 报价相对同侧最优价的距离（bps），正值表示在最优价之后排队，
// 非正值表示挂在最优价或更优的位置。
func DistanceBps(quote float64, side Side, best float64) float64 {
	if best <= 0 {
		return 0
	}
	if side == Buy {
		return (best - quote) / best * 1e4
	}
	return (quote - best) / best * 1e4
}

// Touched 报价是否落在K线区间内：买单需不低于最低价，卖单需不高于最高价。
func Touched(quote float64, side Side, low, high float64) bool {
	if quote <= 0 {
		return false
	}
	if side == Buy {
		return quote >= low
	}
	return quote <= high
}

// FillProbability 阶梯概率乘以停留加成 1+0.1·min(periods,10)，上限 1。
func FillProbability(quote float64, side Side, best float64, periods int) float64 {
	if quote <= 0 || best <= 0 {
		return 0
	}
	d := DistanceBps(quote, side, best)
	p := farFillProb
	for _, s := range fillSteps {
		if d <= s.maxBps {
			p = s.prob
			break
		}
	}
	if periods < 0 {
		periods = 0
	}
	if periods > MaxDwellPeriods {
		periods = MaxDwellPeriods
	}
	p *= 1 + 0.1*float64(periods)
	if p > 1 {
		return 1
	}
	return p
}

// FillSimulator 使用注入的随机源抽样成交。
type FillSimulator struct {
	rng *rand.Rand
}

func NewFillSimulator(rng *rand.Rand) *FillSimulator {
	return &FillSimulator{rng: rng}
}

// ProbabilityAgainstBook 以盘口同侧最优价计算成交概率。
func (f *FillSimulator) ProbabilityAgainstBook(quote float64, side Side, book market.BookSnapshot, periods int) float64 {
	bid, ask := book.Best()
	best := ask
	if side == Buy {
		best = bid
	}
	return FillProbability(quote, side, best, periods)
}

// TryFill 抽样一次是否成交，返回 (是否成交, 使用的概率)。
func (f *FillSimulator) TryFill(quote float64, side Side, best float64, periods int) (bool, float64) {
	p := FillProbability(quote, side, best, periods)
	if p <= 0 {
		return false, 0
	}
	return f.rng.Float64() < p, p
}
