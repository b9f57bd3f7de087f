package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/metrics"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常开仓
	StateClosed State = iota
	// StateOpen 熔断，拒绝新开仓
	StateOpen
	// StateHalfOpen 冷却结束，允许有限次试探
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"` // 连续亏损笔数阈值
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`       // 权益回撤阈值（%），0 表示不检查
	CooldownBars         int     `yaml:"cooldown_bars"`          // 打开状态持续的K线根数
	HalfOpenMaxTry       int     `yaml:"half_open_max_try"`      // 半开状态试探交易笔数
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxConsecutiveLosses: 5,
		MaxDrawdownPct:       20,
		CooldownBars:         24,
		HalfOpenMaxTry:       3,
	}
}

// CircuitBreaker 交易准入熔断器：连续亏损或回撤超限时打开，冷却若干根K线后半开试探，
// 试探交易全部盈利则关闭，任一亏损重新打开。RecordEquity 每根K线调用一次，作为冷却计数。
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	clock    Clock
	logger   *zap.Logger
	notifier *Notifier

	state           State
	consecutiveLoss int
	barsOpen        int
	admitted        int
	probeWins       int
	peak            float64
	trips           int
	lastTrip        time.Time
	lastReason      string

	mu sync.RWMutex
}

// NewCircuitBreaker 非正配置项取默认值；clock/logger 为 nil 时使用真实时间与 Nop。
func NewCircuitBreaker(cfg CircuitBreakerConfig, clock Clock, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if cfg.CooldownBars <= 0 {
		cfg.CooldownBars = def.CooldownBars
	}
	if cfg.HalfOpenMaxTry <= 0 {
		cfg.HalfOpenMaxTry = def.HalfOpenMaxTry
	}
	if clock == nil {
		clock = NowUTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{cfg: cfg, clock: clock, logger: logger.Named("circuit_breaker")}
}

// SetNotifier 熔断触发时发送告警。
func (cb *CircuitBreaker) SetNotifier(n *Notifier) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.notifier = n
}

// AllowTrade 判断是否允许新开仓；半开状态下每次放行计为一次试探。
func (cb *CircuitBreaker) AllowTrade() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.barsOpen < cb.cfg.CooldownBars {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.admitted = 1
		return true
	case StateHalfOpen:
		if cb.admitted >= cb.cfg.HalfOpenMaxTry {
			return false
		}
		cb.admitted++
		return true
	default:
		return false
	}
}

// Check 与 AllowTrade 相同，拒绝时返回 ErrCircuitOpen。
func (cb *CircuitBreaker) Check() error {
	if cb.AllowTrade() {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrCircuitOpen, cb.GetState())
}

// RecordTradeResult 记录一笔已平仓交易的净盈亏。
func (cb *CircuitBreaker) RecordTradeResult(pnl float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if pnl < 0 {
		cb.consecutiveLoss++
		switch cb.state {
		case StateClosed:
			if cb.consecutiveLoss >= cb.cfg.MaxConsecutiveLosses {
				cb.trip("consecutive_losses", float64(cb.consecutiveLoss))
			}
		case StateHalfOpen:
			cb.trip("probe_loss", pnl)
		}
		return
	}

	cb.consecutiveLoss = 0
	if cb.state == StateHalfOpen {
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMaxTry {
			cb.transition(StateClosed)
		}
	}
}

// RecordEquity 每根K线调用：推进冷却计数并检查回撤。
func (cb *CircuitBreaker) RecordEquity(equity float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if equity > cb.peak {
		cb.peak = equity
	}
	if cb.state == StateOpen {
		cb.barsOpen++
		return
	}
	if cb.state != StateClosed || cb.cfg.MaxDrawdownPct <= 0 || cb.peak <= 0 {
		return
	}
	dd := (cb.peak - equity) / cb.peak * 100
	if dd >= cb.cfg.MaxDrawdownPct {
		cb.trip("drawdown", dd)
		// 回撤基准从触发点重新计算
		cb.peak = equity
	}
}

func (cb *CircuitBreaker) trip(reason string, value float64) {
	cb.transition(StateOpen)
	cb.barsOpen = 0
	cb.trips++
	cb.lastTrip = cb.clock.Now()
	cb.lastReason = reason
	cb.logger.Warn("circuit breaker tripped",
		zap.String("reason", reason),
		zap.Float64("value", value),
		zap.Int("trips", cb.trips))
	if cb.notifier != nil {
		cb.notifier.NotifyCircuitTrip(reason, value)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.admitted = 0
	cb.probeWins = 0
	if to == StateClosed {
		cb.consecutiveLoss = 0
	}
	metrics.CircuitBreakerState.Set(float64(to))
	cb.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// CircuitBreakerStats 熔断器统计
type CircuitBreakerStats struct {
	State           State
	Trips           int
	ConsecutiveLoss int
	LastTrip        time.Time
	LastReason      string
}

func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerStats{
		State:           cb.state,
		Trips:           cb.trips,
		ConsecutiveLoss: cb.consecutiveLoss,
		LastTrip:        cb.lastTrip,
		LastReason:      cb.lastReason,
	}
}

// Reset 重置熔断器（每次独立回测前调用）
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveLoss = 0
	cb.barsOpen = 0
	cb.admitted = 0
	cb.probeWins = 0
	cb.peak = 0
	cb.trips = 0
	cb.lastTrip = time.Time{}
	cb.lastReason = ""
	metrics.CircuitBreakerState.Set(float64(StateClosed))
}

// ForceOpen 强制打开熔断器
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip("manual", 0)
}
