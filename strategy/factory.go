package strategy

import (
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
	"perp-mm-lab/risk"
)

// Overlays 可选风控叠加层开关。
type Overlays struct {
	AdaptiveConfidence bool                      `yaml:"adaptive_confidence"`
	SmartExits         bool                      `yaml:"smart_exits"`
	CircuitBreaker     bool                      `yaml:"circuit_breaker"`
	Adaptive           risk.AdaptiveConfig       `yaml:"adaptive"`
	Exits              risk.SmartExitConfig      `yaml:"exits"`
	Breaker            risk.CircuitBreakerConfig `yaml:"breaker"`
}

func DefaultOverlays() Overlays {
	return Overlays{
		Adaptive: risk.DefaultAdaptiveConfig(),
		Exits:    risk.DefaultSmartExitConfig(),
		Breaker:  risk.DefaultCircuitBreakerConfig(),
	}
}

// Builder 按参数和叠加层配置组装策略实例。
type Builder struct {
	Params   Params
	Overlays Overlays
	Logger   *zap.Logger
	// Alerts 非空时熔断跳闸会发送告警
	Alerts risk.AlertClient
}

func NewBuilder(p Params, ov Overlays, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{Params: p, Overlays: ov, Logger: logger}
}

// Build 创建策略；熔断器需要引擎的K线时钟，因此在 Attach 中创建。
func (b *Builder) Build() (*Momentum, error) {
	opts := []Option{WithLogger(b.Logger)}
	if b.Overlays.AdaptiveConfidence {
		opts = append(opts, WithAdaptiveConfidence(risk.NewAdaptiveConfidence(b.Overlays.Adaptive)))
	}
	if b.Overlays.SmartExits {
		opts = append(opts, WithSmartExits(risk.NewSmartExits(b.Overlays.Exits)))
	}
	return NewMomentum(b.Params, opts...)
}

// Attach 构建策略并挂载到引擎，返回可直接传给 Run 的函数。
func (b *Builder) Attach(e *backtest.Engine, start market.Series) (backtest.StrategyFunc, error) {
	m, err := b.Build()
	if err != nil {
		return nil, err
	}
	b.install(m, e, start)
	return m.Func(), nil
}

func (b *Builder) install(m *Momentum, e *backtest.Engine, start market.Series) {
	if e == nil {
		return
	}
	var breaker *risk.CircuitBreaker
	if b.Overlays.CircuitBreaker {
		var ts time.Time
		if len(start) > 0 {
			ts = start[0].Timestamp
		}
		breaker = risk.NewCircuitBreaker(b.Overlays.Breaker, risk.NewSimClock(ts), b.Logger)
		if b.Alerts != nil {
			breaker.SetNotifier(risk.NewNotifier(b.Alerts, b.Logger))
		}
	}
	m.Install(e, breaker)
}

// Factory 走步测试用：每个窗口得到一个全新的策略实例，先用训练窗口预热指标，
// 再把叠加层挂到该窗口的引擎上。参数在训练窗口上不再重新拟合。
func (b *Builder) Factory() backtest.StrategyFactory {
	return func(e *backtest.Engine, train market.Series) backtest.StrategyFunc {
		m, err := b.Build()
		if err != nil {
			b.Logger.Error("build strategy", zap.Error(err))
			return func(market.Bar, float64, []backtest.Position) *backtest.Signal { return nil }
		}
		m.Prime(train)
		b.install(m, e, train)
		return m.Func()
	}
}
