package scenario

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	DefaultBaseSeed = 42
	DefaultNumBars  = 720 // 30 天小时线
)

var assetUniverse = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

// Generator 确定性场景生成器：相同 BaseSeed 与 NumBars 生成相同列表。
type Generator struct {
	BaseSeed int64
	NumBars  int
}

func NewGenerator(baseSeed int64) *Generator {
	return &Generator{BaseSeed: baseSeed, NumBars: DefaultNumBars}
}

// GenerateAll 按 Families 顺序拼接全部场景（共 480 个）。
func (g *Generator) GenerateAll() []Params {
	var out []Params
	for _, f := range Families {
		out = append(out, g.Family(f)...)
	}
	return out
}

// ErrUnknownScenario 场景 ID 不在当前种子生成的列表中。
var ErrUnknownScenario = errors.New("unknown scenario id")

// Find 按 ID 查找场景。
func (g *Generator) Find(id string) (Params, error) {
	for _, p := range g.GenerateAll() {
		if p.ID == id {
			return p, nil
		}
	}
	return Params{}, fmt.Errorf("%w: %q (base_seed=%d)", ErrUnknownScenario, id, g.BaseSeed)
}

// ByFamily 按场景族分组。
func (g *Generator) ByFamily() map[Family][]Params {
	out := make(map[Family][]Params, len(Families))
	for _, f := range Families {
		out[f] = g.Family(f)
	}
	return out
}

func (g *Generator) Family(f Family) []Params {
	switch f {
	case FamilyRegime:
		return g.regimes()
	case FamilyVolatility:
		return g.volatility()
	case FamilyLiquidity:
		return g.liquidity()
	case FamilyMicrostructure:
		return g.microstructure()
	case FamilyLatency:
		return g.latency()
	case FamilyOperational:
		return g.operational()
	case FamilyMultiAsset:
		return g.multiAsset()
	case FamilyWalkForward:
		return g.walkForward()
	case FamilyStress:
		return g.stress()
	}
	return nil
}

// base 公共默认值；rng 以场景种子初始化，用于该场景内的参数抖动。
func (g *Generator) base(f Family, name string) (Params, *rand.Rand) {
	seed := DeriveSeed(g.BaseSeed, name)
	n := g.NumBars
	if n <= 0 {
		n = DefaultNumBars
	}
	rng := rand.New(rand.NewSource(seed))
	return Params{
		ID:              name,
		Name:            name,
		Family:          f,
		Seed:            seed,
		Regime:          RegimeRanging,
		VolatilityLevel: VolMedium,
		LiquidityLevel:  LiqNormal,
		NumBars:         n,
		InitialPrice:    100 * (0.5 + rng.Float64()),
		BaseVolatility:  baseVol[VolMedium],
		MakerFee:        0.0002,
		TakerFee:        0.0006,
		FundingRate:     0.0001,
		SlippageBps:     liquidity[LiqNormal].slippageBps,
		LatencyMinMs:    10,
		LatencyMaxMs:    50,
		Assets:          []string{assetUniverse[0]},
		Correlation:     1,
	}, rng
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

func (g *Generator) regimes() []Params {
	out := make([]Params, 0, len(Regimes)*10)
	for _, r := range Regimes {
		for i := 0; i < 10; i++ {
			p, rng := g.base(FamilyRegime, fmt.Sprintf("regime_%s_%03d", r, i))
			p.Regime = r
			switch r {
			case RegimeBull:
				p.Drift = between(rng, 0.0002, 0.0008)
			case RegimeBear:
				p.Drift = -between(rng, 0.0002, 0.0008)
			case RegimeRanging:
				p.BaseVolatility = between(rng, 0.004, 0.008)
			case RegimeHighVol:
				p.VolatilityLevel = VolHigh
				p.BaseVolatility = between(rng, 0.02, 0.035)
				p.StressMagnitude = between(rng, 0.05, 0.1)
			case RegimeFlashCrash:
				p.StressMagnitude = between(rng, 0.1, 0.25)
			case RegimeGap:
				p.StressMagnitude = between(rng, 0.02, 0.05)
			}
			out = append(out, p)
		}
	}
	return out
}

func (g *Generator) volatility() []Params {
	out := make([]Params, 0, len(VolatilityLevels)*10)
	for _, lvl := range VolatilityLevels {
		for i := 0; i < 10; i++ {
			p, rng := g.base(FamilyVolatility, fmt.Sprintf("volatility_%s_%03d", lvl, i))
			p.VolatilityLevel = lvl
			p.BaseVolatility = baseVol[lvl] * between(rng, 0.8, 1.2)
			p.Drift = between(rng, -0.0001, 0.0001)
			if lvl == VolHigh || lvl == VolExtreme {
				p.Regime = RegimeHighVol
				p.StressMagnitude = 0.05
			}
			out = append(out, p)
		}
	}
	return out
}

func (g *Generator) liquidity() []Params {
	out := make([]Params, 0, len(LiquidityLevels)*10)
	for _, lvl := range LiquidityLevels {
		for i := 0; i < 10; i++ {
			p, rng := g.base(FamilyLiquidity, fmt.Sprintf("liquidity_%s_%03d", lvl, i))
			p.LiquidityLevel = lvl
			p.SlippageBps = liquidity[lvl].slippageBps * between(rng, 0.8, 1.2)
			p.BaseVolatility = baseVol[VolMedium] * between(rng, 0.7, 1.3)
			out = append(out, p)
		}
	}
	return out
}

func (g *Generator) microstructure() []Params {
	out := make([]Params, 0, 50)
	for i := 0; i < 50; i++ {
		p, rng := g.base(FamilyMicrostructure, fmt.Sprintf("microstructure_%03d", i))
		p.LiquidityLevel = LiquidityLevels[i%len(LiquidityLevels)]
		p.SlippageBps = between(rng, 2, 20)
		p.StaleQuoteProb = between(rng, 0.02, 0.2)
		p.DataGapProb = between(rng, 0, 0.05)
		out = append(out, p)
	}
	return out
}

func (g *Generator) latency() []Params {
	out := make([]Params, 0, 50)
	for i := 0; i < 50; i++ {
		p, rng := g.base(FamilyLatency, fmt.Sprintf("latency_%03d", i))
		p.LatencyMinMs = 5 + float64(i)*10
		p.LatencyMaxMs = p.LatencyMinMs * between(rng, 1.5, 3)
		out = append(out, p)
	}
	return out
}

func (g *Generator) operational() []Params {
	out := make([]Params, 0, 50)
	for i := 0; i < 50; i++ {
		p, rng := g.base(FamilyOperational, fmt.Sprintf("operational_%03d", i))
		p.OrderRejectProb = between(rng, 0.01, 0.3)
		p.DataGapProb = between(rng, 0.01, 0.1)
		p.StaleQuoteProb = between(rng, 0, 0.05)
		out = append(out, p)
	}
	return out
}

func (g *Generator) multiAsset() []Params {
	out := make([]Params, 0, 60)
	for i := 0; i < 60; i++ {
		p, rng := g.base(FamilyMultiAsset, fmt.Sprintf("multi_asset_%03d", i))
		k := 2 + i%3
		p.Assets = append([]string(nil), assetUniverse[:k]...)
		p.Correlation = between(rng, -0.2, 0.95)
		p.Drift = between(rng, -0.0002, 0.0002)
		out = append(out, p)
	}
	return out
}

func (g *Generator) walkForward() []Params {
	trains := []int{7 * 24, 14 * 24, 30 * 24}
	tests := []int{3 * 24, 7 * 24}
	out := make([]Params, 0, 60)
	for i := 0; i < 60; i++ {
		p, rng := g.base(FamilyWalkForward, fmt.Sprintf("walk_forward_%03d", i))
		p.TrainBars = trains[i%len(trains)]
		p.TestBars = tests[(i/len(trains))%len(tests)]
		p.NumBars = p.TrainBars + p.TestBars*(3+i%4)
		p.Drift = between(rng, -0.0003, 0.0003)
		p.Regime = Regimes[i%len(Regimes)]
		if p.Regime == RegimeFlashCrash || p.Regime == RegimeGap || p.Regime == RegimeHighVol {
			p.StressMagnitude = between(rng, 0.03, 0.1)
		}
		out = append(out, p)
	}
	return out
}

func (g *Generator) stress() []Params {
	regimes := []Regime{RegimeCrash, RegimeFlashCrash, RegimeHighVol, RegimeGap}
	out := make([]Params, 0, 50)
	for i := 0; i < 50; i++ {
		p, rng := g.base(FamilyStress, fmt.Sprintf("extreme_stress_%03d", i))
		p.Regime = regimes[i%len(regimes)]
		p.VolatilityLevel = VolExtreme
		p.BaseVolatility = baseVol[VolHigh] * between(rng, 1, 2)
		p.StressMagnitude = between(rng, 0.2, 0.5)
		p.LiquidityLevel = LiqThin
		p.SlippageBps = between(rng, 10, 30)
		p.OrderRejectProb = between(rng, 0, 0.1)
		p.FundingRate = between(rng, 0.0001, 0.001)
		out = append(out, p)
	}
	return out
}
