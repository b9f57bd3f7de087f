package optimizer

import (
	"strconv"

	"github.com/c-bata/goptuna"

	"perp-mm-lab/strategy"
)

// StrategyParams 被搜索的 13 个超参数。
type StrategyParams = strategy.Params

// suggest 从 TPE 试验中采样一组参数；区间覆盖小时线常见取值。
func suggest(trial goptuna.Trial) (StrategyParams, error) {
	var (
		p   StrategyParams
		err error
	)
	ints := []struct {
		name   string
		lo, hi int
		dst    *int
	}{
		{"rsi_period", 7, 28, &p.RSIPeriod},
		{"momentum_period", 3, 30, &p.MomentumPeriod},
		{"trend_ema_period", 20, 200, &p.TrendEMAPeriod},
		{"atr_period", 7, 28, &p.ATRPeriod},
	}
	for _, s := range ints {
		if *s.dst, err = trial.SuggestInt(s.name, s.lo, s.hi); err != nil {
			return p, err
		}
	}
	floats := []struct {
		name   string
		lo, hi float64
		dst    *float64
	}{
		{"rsi_oversold", 15, 40, &p.RSIOversold},
		{"rsi_overbought", 60, 85, &p.RSIOverbought},
		{"position_size_pct", 0.02, 0.3, &p.PositionSizePct},
		{"stop_loss_pct", 0.005, 0.05, &p.StopLossPct},
		{"take_profit_pct", 0.01, 0.1, &p.TakeProfitPct},
		{"leverage", 1, 5, &p.Leverage},
		{"momentum_threshold", 0.002, 0.03, &p.MomentumThreshold},
		{"min_confidence", 0.3, 0.8, &p.MinConfidence},
	}
	for _, s := range floats {
		if *s.dst, err = trial.SuggestFloat(s.name, s.lo, s.hi); err != nil {
			return p, err
		}
	}
	rf, err := trial.SuggestCategorical("regime_filter", []string{"true", "false"})
	if err != nil {
		return p, err
	}
	p.RegimeFilter, _ = strconv.ParseBool(rf)
	return p, nil
}
