package strategy

import (
	"math"

	"github.com/cinar/indicator"
	"go.uber.org/zap"

	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
	"perp-mm-lab/risk"
)

// Momentum RSI + 动量 + EMA 趋势过滤的方向性策略。
// 每个回测实例独占一个，非并发安全。
type Momentum struct {
	params     Params
	logger     *zap.Logger
	confidence *risk.AdaptiveConfidence
	exits      *risk.SmartExits

	history market.Series
	regime  *market.RegimeDetector
	current market.MarketRegime
	lastATR float64
}

// Option 配置可选叠加层。
type Option func(*Momentum)

func WithLogger(l *zap.Logger) Option {
	return func(m *Momentum) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAdaptiveConfidence 使用自适应阈值替代固定的 MinConfidence。
func WithAdaptiveConfidence(a *risk.AdaptiveConfidence) Option {
	return func(m *Momentum) { m.confidence = a }
}

// WithSmartExits 使用 ATR 止损止盈替代固定百分比。
func WithSmartExits(s *risk.SmartExits) Option {
	return func(m *Momentum) { m.exits = s }
}

func NewMomentum(p Params, opts ...Option) (*Momentum, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Momentum{params: p, logger: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.Named("momentum")
	m.Reset()
	return m, nil
}

func (m *Momentum) Params() Params { return m.params }

// Reset 清空历史，开始新的回测前调用。
func (m *Momentum) Reset() {
	m.history = make(market.Series, 0, m.maxHistory())
	m.regime = market.DefaultRegimeDetector()
	m.current = market.RegimeCalm
	m.lastATR = 0
	if m.confidence != nil {
		m.confidence.Reset()
	}
}

func (m *Momentum) maxHistory() int {
	return m.params.warmup() * 4
}

// Func 返回可交给回测引擎的策略函数。
func (m *Momentum) Func() backtest.StrategyFunc {
	return m.Signal
}

// Regime 最近一次识别的市场状态。
func (m *Momentum) Regime() market.MarketRegime { return m.current }

// LastATR 最近一次计算的 ATR。
func (m *Momentum) LastATR() float64 { return m.lastATR }

// Prime 用历史K线预热指标窗口与市场状态，不产生信号。
func (m *Momentum) Prime(bars market.Series) {
	for _, b := range bars {
		m.observe(b)
	}
}

func (m *Momentum) observe(bar market.Bar) {
	m.history = append(m.history, bar)
	if len(m.history) > m.maxHistory() {
		m.history = m.history[len(m.history)-m.maxHistory():]
	}
	m.current = m.regime.Update(bar.Close)
}

// Signal 只使用当前及之前的K线。
func (m *Momentum) Signal(bar market.Bar, balance float64, open []backtest.Position) *backtest.Signal {
	m.observe(bar)

	if len(m.history) < m.params.warmup() {
		return nil
	}
	closes := m.history.Closes()
	n := len(closes)

	_, rsiSeries := indicator.RsiPeriod(m.params.RSIPeriod, closes)
	rsi := rsiSeries[n-1]
	ema := indicator.Ema(m.params.TrendEMAPeriod, closes)[n-1]
	m.lastATR = risk.ATR(m.history, m.params.ATRPeriod)

	ref := closes[n-1-m.params.MomentumPeriod]
	mom := 0.0
	if ref > 0 {
		mom = (bar.Close - ref) / ref
	}
	ind := map[string]float64{
		"rsi":      rsi,
		"momentum": mom,
		"ema_gap":  (bar.Close - ema) / ema,
		"atr_pct":  m.lastATR / bar.Close,
	}
	if err := market.ValidateIndicators(ind, "rsi", "momentum", "ema_gap", "atr_pct"); err != nil {
		m.logger.Debug("indicators not ready", zap.Error(err))
		return nil
	}

	th := m.params.MomentumThreshold
	long := rsi <= m.params.RSIOversold || (th > 0 && mom >= th && rsi < m.params.RSIOverbought)
	short := rsi >= m.params.RSIOverbought || (th > 0 && mom <= -th && rsi > m.params.RSIOversold)
	if long == short {
		return nil
	}
	if m.params.RegimeFilter {
		if long && (bar.Close < ema || m.current == market.RegimeTrendDown) {
			return nil
		}
		if short && (bar.Close > ema || m.current == market.RegimeTrendUp) {
			return nil
		}
	}

	side := backtest.Long
	if short {
		side = backtest.Short
	}
	for _, p := range open {
		if p.Side == side {
			return nil
		}
	}

	conf := m.score(rsi, mom, long)
	if m.confidence != nil {
		m.confidence.SetRegime(m.current)
		conf = m.confidence.Confidence(conf, ind)
		if !m.confidence.Admit(conf) {
			return nil
		}
	} else if conf < m.params.MinConfidence {
		return nil
	}

	sl, tp := m.levels(long, bar.Close)
	sig := &backtest.Signal{
		Side:       side,
		Amount:     balance * m.params.PositionSizePct * m.params.Leverage / bar.Close,
		Leverage:   m.params.Leverage,
		StopLoss:   sl,
		TakeProfit: tp,
		Confidence: conf,
	}
	m.logger.Debug("signal",
		zap.String("side", string(side)),
		zap.Float64("rsi", rsi),
		zap.Float64("momentum", mom),
		zap.Float64("confidence", conf),
		zap.String("regime", m.current.String()))
	return sig
}

// score RSI 越极端、动量越强置信度越高，范围 [0,1]。
func (m *Momentum) score(rsi, mom float64, long bool) float64 {
	var extremity float64
	if long {
		extremity = (m.params.RSIOversold - rsi) / m.params.RSIOversold
	} else {
		extremity = (rsi - m.params.RSIOverbought) / (100 - m.params.RSIOverbought)
	}
	strength := 0.0
	if th := m.params.MomentumThreshold; th > 0 {
		strength = math.Abs(mom) / (2 * th)
	}
	c := 0.5 + 0.25*clampUnit(extremity) + 0.25*clampUnit(strength)
	return math.Min(1, math.Max(0, c))
}

func (m *Momentum) levels(long bool, price float64) (sl, tp float64) {
	if m.exits != nil && m.lastATR > 0 {
		return m.exits.Levels(long, price, m.lastATR, m.current)
	}
	if long {
		if m.params.StopLossPct > 0 {
			sl = price * (1 - m.params.StopLossPct)
		}
		if m.params.TakeProfitPct > 0 {
			tp = price * (1 + m.params.TakeProfitPct)
		}
		return sl, tp
	}
	if m.params.StopLossPct > 0 {
		sl = price * (1 + m.params.StopLossPct)
	}
	if m.params.TakeProfitPct > 0 {
		tp = price * (1 - m.params.TakeProfitPct)
	}
	return sl, tp
}

func clampUnit(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
