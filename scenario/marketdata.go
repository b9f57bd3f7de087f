package scenario

import (
	"math"
	"math/rand"
	"time"

	"perp-mm-lab/market"
)

// Start 合成行情的起始时间，保证相同种子输出逐字节一致。
var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// GARCH(1,1) 系数，α+β<1 保证均值回归。
const (
	garchAlpha   = 0.08
	garchBeta    = 0.9
	baseVolume   = 1000.0
	rangingKappa = 0.05
)

// MarketDataSimulator 把场景参数映射为合成 OHLCV。纯函数：无共享随机源。
type MarketDataSimulator struct {
	Interval time.Duration
}

func NewMarketDataSimulator() *MarketDataSimulator {
	return &MarketDataSimulator{Interval: time.Hour}
}

// GenerateOHLCV 生成主资产行情。
func (s *MarketDataSimulator) GenerateOHLCV(p Params) (market.Series, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(p.Seed))
	shocks := make([]float64, p.NumBars)
	for i := range shocks {
		shocks[i] = rng.NormFloat64()
	}
	return s.build(p, rng, shocks), nil
}

// GenerateAssets 多资产场景：共同因子 + 各自噪声，相关系数为 p.Correlation。
// 第一个元素与 GenerateOHLCV 的结果相同。
func (s *MarketDataSimulator) GenerateAssets(p Params) ([]market.Series, error) {
	primary, err := s.GenerateOHLCV(p)
	if err != nil {
		return nil, err
	}
	out := []market.Series{primary}
	if len(p.Assets) <= 1 {
		return out, nil
	}

	// 主资产的冲击序列作为共同因子
	rng := rand.New(rand.NewSource(p.Seed))
	common := make([]float64, p.NumBars)
	for i := range common {
		common[i] = rng.NormFloat64()
	}
	rho := p.Correlation
	idio := math.Sqrt(1 - rho*rho)
	for k := 1; k < len(p.Assets); k++ {
		arng := rand.New(rand.NewSource(p.Seed + int64(k)*7919))
		shocks := make([]float64, p.NumBars)
		for i := range shocks {
			shocks[i] = rho*common[i] + idio*arng.NormFloat64()
		}
		q := p
		q.InitialPrice = p.InitialPrice * (0.5 + arng.Float64()*2)
		out = append(out, s.build(q, arng, shocks))
	}
	return out, nil
}

func (s *MarketDataSimulator) build(p Params, rng *rand.Rand, shocks []float64) market.Series {
	n := p.NumBars
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	base := p.BaseVolatility
	varBase := base * base
	omega := varBase * (1 - garchAlpha - garchBeta)

	// 波动率路径与对数收益
	sigma := make([]float64, n)
	rets := make([]float64, n)
	variance := varBase
	prev := 0.0
	logP0 := math.Log(p.InitialPrice)
	logP := logP0
	for i := 0; i < n; i++ {
		if i > 0 {
			variance = omega + garchAlpha*prev*prev + garchBeta*variance
			variance = math.Max(varBase*0.04, math.Min(variance, varBase*25))
		}
		sigma[i] = math.Sqrt(variance)
		r := p.Drift - 0.5*variance + sigma[i]*shocks[i]
		if p.Regime == RegimeRanging {
			// 围绕正弦目标均值回归
			target := logP0 + 4*base*math.Sin(2*math.Pi*float64(i)/48)
			r += rangingKappa * (target - logP)
		}
		rets[i] = r
		prev = r
		logP += r
	}

	gaps := overlayShocks(p, rng, rets)

	liq := liquidity[p.LiquidityLevel].volume
	if liq == 0 {
		liq = 1
	}
	out := make(market.Series, n)
	price := p.InitialPrice
	for i := 0; i < n; i++ {
		open := price
		if g, ok := gaps[i]; ok {
			open = price * math.Exp(g)
		}
		closePx := price * math.Exp(rets[i])
		span := closePx * sigma[i]
		high := math.Max(open, closePx) + span*math.Abs(rng.NormFloat64())*0.5
		low := math.Min(open, closePx) - span*math.Abs(rng.NormFloat64())*0.5
		if low <= 0 {
			low = math.Min(open, closePx) * 0.5
		}
		volRatio := 1.0
		if base > 0 {
			volRatio = sigma[i] / base
		}
		out[i] = market.Bar{
			Timestamp: Start.Add(time.Duration(i) * interval),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    baseVolume * liq * volRatio * (0.5 + rng.Float64()),
		}
		price = closePx
	}
	return out
}

// overlayShocks 叠加状态相关冲击；返回跳空K线下标到开盘跳空幅度（对数）的映射。
func overlayShocks(p Params, rng *rand.Rand, rets []float64) map[int]float64 {
	n := len(rets)
	m := p.StressMagnitude
	gaps := map[int]float64{}
	if m <= 0 || n < 10 {
		return gaps
	}
	switch p.Regime {
	case RegimeCrash, RegimeFlashCrash:
		// 连续下跌块
		start := int(float64(n) * between(rng, 0.3, 0.7))
		width := 5
		if start+width > n {
			start = n - width
		}
		drop := math.Log(1-math.Min(m, 0.9)) / float64(width)
		for i := start; i < start+width; i++ {
			rets[i] += drop
		}
		if p.Regime == RegimeFlashCrash {
			rec := -drop * float64(width) * 0.8 / 10
			for i := start + width; i < start+width+10 && i < n; i++ {
				rets[i] += rec
			}
		}
	case RegimeGap:
		every := n / 10
		if every < 24 {
			every = 24
		}
		for i := every; i < n; i += every {
			g := m * between(rng, 0.5, 1.5)
			if rng.Intn(2) == 0 {
				g = -g
			}
			gaps[i] = g
			rets[i] += g
		}
	case RegimeHighVol:
		pairs := n/200 + 1
		for k := 0; k < pairs; k++ {
			i := rng.Intn(n - 4)
			drop := math.Log(1 - math.Min(m, 0.9))
			rets[i] += drop
			for j := 1; j <= 3; j++ {
				rets[i+j] += -drop * 0.7 / 3
			}
		}
	}
	return gaps
}
