// Package backtest 方向性信号回测与做市回测引擎。
package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/market"
	"perp-mm-lab/metrics"
)

// EngineConfig 方向性回测配置。
type EngineConfig struct {
	InitialBalance      float64       `yaml:"initial_balance"`
	TradingFeeRate      float64       `yaml:"trading_fee_rate"` // taker
	MakerFeeRate        float64       `yaml:"maker_fee_rate"`
	FundingRate         float64       `yaml:"funding_rate"` // 每 8 小时
	SlippageBps         float64       `yaml:"slippage_bps"`
	MaxSlippageBps      float64       `yaml:"max_slippage_bps"`
	UseNextBarExecution bool          `yaml:"use_next_bar_execution"`
	DefaultLeverage     float64       `yaml:"default_leverage"`
	PositionSizePct     float64       `yaml:"position_size_pct"` // 每笔占用余额比例
	MaxPositions        int           `yaml:"max_positions"`
	MarginUsageLimit    float64       `yaml:"margin_usage_limit"`
	BarInterval         time.Duration `yaml:"bar_interval"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InitialBalance:      10000,
		TradingFeeRate:      0.0006,
		MakerFeeRate:        0.0002,
		FundingRate:         0.0001,
		SlippageBps:         2,
		MaxSlippageBps:      50,
		UseNextBarExecution: true,
		DefaultLeverage:     1,
		PositionSizePct:     0.1,
		MaxPositions:        1,
		MarginUsageLimit:    0.95,
		BarInterval:         time.Hour,
	}
}

// TradeGate 可选的开仓闸门（如熔断器）。
type TradeGate interface {
	AllowTrade() bool
	RecordTradeResult(pnl float64)
	RecordEquity(equity float64)
}

// StopUpdater 可选的止损止盈调整器，每根K线在检查出场前调用。
type StopUpdater interface {
	UpdateStops(pos *Position, bar market.Bar)
}

type pendingSignal struct {
	signal *Signal
	bar    int
}

// Engine 方向性回测引擎。单次 Run 内单线程，不可重入；两次独立运行之间需 Reset。
type Engine struct {
	cfg    EngineConfig
	logger *zap.Logger
	gate   TradeGate
	stops  StopUpdater

	balance         float64
	positions       []*Position
	closed          []ClosedTrade
	equity          []EquityPoint
	pending         []pendingSignal
	nextID          int
	rejectedEntries int
	tradingFees     float64
	fundingFees     float64
	slippage        float64
}

// NewEngine logger 为 nil 时使用 Nop。
func NewEngine(cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 50
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = 1
	}
	if cfg.MarginUsageLimit <= 0 {
		cfg.MarginUsageLimit = 0.95
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, logger: logger.Named("backtest")}
	e.Reset()
	return e
}

// SetGate 设置开仓闸门。
func (e *Engine) SetGate(g TradeGate) { e.gate = g }

// HasGate 报告是否已挂载交易闸门。
func (e *Engine) HasGate() bool { return e.gate != nil }

// SetStopUpdater 设置止损调整器。
func (e *Engine) SetStopUpdater(s StopUpdater) { e.stops = s }

func (e *Engine) Config() EngineConfig { return e.cfg }

// Reset 恢复到初始状态。
func (e *Engine) Reset() {
	e.balance = e.cfg.InitialBalance
	e.positions = nil
	e.closed = nil
	e.equity = nil
	e.pending = nil
	e.nextID = 0
	e.rejectedEntries = 0
	e.tradingFees = 0
	e.fundingFees = 0
	e.slippage = 0
}

// Balance 可用余额（不含占用保证金）。
func (e *Engine) Balance() float64 { return e.balance }

// OpenPositions 返回持仓副本。
func (e *Engine) OpenPositions() []Position {
	out := make([]Position, len(e.positions))
	for i, p := range e.positions {
		out[i] = *p
	}
	return out
}

// Run 逐根回放：记录权益 → 执行上一根产生的信号（本根开盘价）→ 检查止损止盈 →
// 调用策略 → 排队信号。结束时以最后收盘价强平所有持仓。
func (e *Engine) Run(bars market.Series, strategy StrategyFunc) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	if strategy == nil {
		return nil, fmt.Errorf("backtest: nil strategy")
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	for i, bar := range bars {
		e.recordEquity(bar.Timestamp, bar.Close)

		e.executePending(i, bar)
		e.checkExits(bar)
		// 开盘执行完之后才把本根收盘权益交给熔断，下一根的开仓只看到已收盘的数据
		e.feedGate(bar.Close)

		sig := strategy(bar, e.balance, e.OpenPositions())
		if sig == nil {
			continue
		}
		if sig.Side != Long && sig.Side != Short {
			e.logger.Debug("ignoring signal with invalid side", zap.String("side", string(sig.Side)))
			continue
		}
		if e.cfg.UseNextBarExecution {
			e.pending = append(e.pending, pendingSignal{signal: sig, bar: i})
		} else {
			e.executeSignal(sig, bar.Close, bar.Timestamp, bar.Volume)
		}
	}

	last := bars[len(bars)-1]
	for len(e.positions) > 0 {
		e.ClosePosition(e.positions[0], last.Close, last.Timestamp, ExitEndOfData)
	}
	e.pending = nil
	e.recordEquity(last.Timestamp, last.Close)
	e.feedGate(last.Close)

	res := &Result{
		Metrics:         e.CalculateResults(),
		RejectedEntries: e.rejectedEntries,
		Bars:            len(bars),
		Start:           bars[0].Timestamp,
		End:             last.Timestamp,
	}
	metrics.BacktestRuns.WithLabelValues("directional").Inc()
	return res, nil
}

// executePending 执行更早K线产生的信号；同一根产生的信号不会在本根成交。
func (e *Engine) executePending(i int, bar market.Bar) {
	if len(e.pending) == 0 {
		return
	}
	keep := e.pending[:0]
	for _, p := range e.pending {
		if p.bar >= i {
			keep = append(keep, p)
			continue
		}
		e.executeSignal(p.signal, bar.Open, bar.Timestamp, bar.Volume)
	}
	e.pending = keep
}

func (e *Engine) executeSignal(sig *Signal, price float64, ts time.Time, volume float64) {
	// 反向信号先平掉相反方向持仓
	for i := 0; i < len(e.positions); {
		if e.positions[i].Side != sig.Side {
			exit := e.CalculateSlippage(price, e.positions[i].Amount, opposite(e.positions[i].Side), &volume)
			e.slippage += math.Abs(exit-price) * e.positions[i].Amount
			e.ClosePosition(e.positions[i], exit, ts, ExitSignal)
			continue
		}
		i++
	}

	if e.cfg.MaxPositions > 0 && len(e.positions) >= e.cfg.MaxPositions {
		e.reject("max_positions", price)
		return
	}
	if e.gate != nil && !e.gate.AllowTrade() {
		e.reject("circuit_breaker", price)
		return
	}

	leverage := sig.Leverage
	if leverage <= 0 {
		leverage = e.cfg.DefaultLeverage
	}
	amount := sig.Amount
	if amount <= 0 {
		amount = e.balance * e.cfg.PositionSizePct * leverage / price
	}
	if amount <= 0 {
		e.reject("zero_size", price)
		return
	}

	fill := e.CalculateSlippage(price, amount, sig.Side, &volume)
	if e.OpenPosition(sig.Side, fill, amount, leverage, ts, sig.StopLoss, sig.TakeProfit) {
		e.slippage += math.Abs(fill-price) * amount
	}
}

// CalculateSlippage 返回滑点后的成交价：基础 bps，订单价值超过 K 线成交额 1% 时
// 追加平方根冲击项，总量不超过 MaxSlippageBps；买入向上、卖出向下。
func (e *Engine) CalculateSlippage(price, amount float64, side Side, volume *float64) float64 {
	bps := e.cfg.SlippageBps
	if volume != nil && *volume > 0 && price > 0 {
		orderValue := price * amount
		marketValue := *volume * price
		if orderValue > 0.01*marketValue {
			bps += math.Sqrt(orderValue/marketValue) * 100
		}
	}
	if bps > e.cfg.MaxSlippageBps {
		bps = e.cfg.MaxSlippageBps
	}
	if bps < 0 {
		bps = 0
	}
	return price * (1 + side.Sign()*bps/1e4)
}

// OpenPosition 保证金 = 名义价值/杠杆；保证金加开仓手续费超过余额 MarginUsageLimit 时拒绝（只记录不报错）。
func (e *Engine) OpenPosition(side Side, price, amount, leverage float64, ts time.Time, stopLoss, takeProfit float64) bool {
	if price <= 0 || amount <= 0 {
		e.reject("invalid_order", price)
		return false
	}
	if leverage <= 0 {
		leverage = e.cfg.DefaultLeverage
	}
	notional := price * amount
	margin := notional / leverage
	fee := notional * e.cfg.TradingFeeRate
	if margin+fee > e.balance*e.cfg.MarginUsageLimit {
		e.reject("insufficient_margin", price)
		e.logger.Warn("entry rejected: insufficient margin",
			zap.Float64("required", margin+fee),
			zap.Float64("balance", e.balance),
			zap.Float64("limit", e.cfg.MarginUsageLimit))
		return false
	}

	e.balance -= margin + fee
	e.tradingFees += fee
	e.nextID++
	e.positions = append(e.positions, &Position{
		ID:         e.nextID,
		Side:       side,
		EntryPrice: price,
		Amount:     amount,
		Leverage:   leverage,
		EntryTime:  ts,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Margin:     margin,
		EntryFee:   fee,
	})
	return true
}

// ClosePosition 平仓并把保证金与净盈亏返还余额。资金费在有时间戳时按持仓小时/8 折算，
// 缺少时间戳时按一个周期计。pos 不在持仓列表中（已平仓）时返回 ErrPositionNotFound，余额不变。
func (e *Engine) ClosePosition(pos *Position, exitPrice float64, ts time.Time, reason string) (ClosedTrade, error) {
	idx := -1
	for i, p := range e.positions {
		if p == pos {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ClosedTrade{}, ErrPositionNotFound
	}
	e.positions = append(e.positions[:idx], e.positions[idx+1:]...)

	gross := pos.Side.Sign() * (exitPrice - pos.EntryPrice) * pos.Amount
	exitFee := exitPrice * pos.Amount * e.cfg.TradingFeeRate
	funding := pos.Notional() * e.cfg.FundingRate * fundingPeriods(pos.EntryTime, ts)
	net := gross - (pos.EntryFee + exitFee) - funding

	e.balance += pos.Margin + gross - exitFee - funding
	e.tradingFees += exitFee
	e.fundingFees += funding

	pct := 0.0
	if pos.Margin > 0 {
		pct = net / pos.Margin * 100
	}
	trade := ClosedTrade{
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Amount:      pos.Amount,
		Leverage:    pos.Leverage,
		GrossPnL:    gross,
		TradingFees: pos.EntryFee + exitFee,
		FundingFees: funding,
		NetPnL:      net,
		PnLPct:      pct,
		ExitReason:  reason,
		EntryTime:   pos.EntryTime,
		ExitTime:    ts,
	}
	e.closed = append(e.closed, trade)
	if e.gate != nil {
		e.gate.RecordTradeResult(net)
	}
	metrics.ClosedTrades.WithLabelValues(reason).Inc()
	return trade, nil
}

func fundingPeriods(entry, exit time.Time) float64 {
	if entry.IsZero() || exit.IsZero() {
		return 1
	}
	if !exit.After(entry) {
		return 0
	}
	return exit.Sub(entry).Hours() / 8
}

// checkExits 先触发者优先；同一根K线同时触及止损与止盈时按止损处理。跳空越过价位时以开盘价成交。
func (e *Engine) checkExits(bar market.Bar) {
	for i := 0; i < len(e.positions); {
		pos := e.positions[i]
		if e.stops != nil {
			e.stops.UpdateStops(pos, bar)
		}
		price, reason, hit := exitLevel(pos, bar)
		if !hit {
			i++
			continue
		}
		e.ClosePosition(pos, price, bar.Timestamp, reason)
	}
}

func exitLevel(pos *Position, bar market.Bar) (float64, string, bool) {
	if pos.Side == Long {
		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			return math.Min(pos.StopLoss, bar.Open), ExitStopLoss, true
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			return math.Max(pos.TakeProfit, bar.Open), ExitTakeProfit, true
		}
		return 0, "", false
	}
	if pos.StopLoss > 0 && bar.High >= pos.StopLoss {
		return math.Max(pos.StopLoss, bar.Open), ExitStopLoss, true
	}
	if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
		return math.Min(pos.TakeProfit, bar.Open), ExitTakeProfit, true
	}
	return 0, "", false
}

func (e *Engine) recordEquity(ts time.Time, mark float64) {
	wallet, eq := e.equityAt(mark)
	e.equity = append(e.equity, EquityPoint{Timestamp: ts, Balance: wallet, Equity: eq})
}

// equityAt 钱包余额（含占用保证金）与按 mark 计的权益。
func (e *Engine) equityAt(mark float64) (wallet, equity float64) {
	wallet = e.balance
	unrealized := 0.0
	for _, p := range e.positions {
		wallet += p.Margin
		unrealized += p.UnrealizedPnL(mark)
	}
	return wallet, wallet + unrealized
}

func (e *Engine) feedGate(mark float64) {
	if e.gate == nil {
		return
	}
	_, eq := e.equityAt(mark)
	e.gate.RecordEquity(eq)
}

func (e *Engine) reject(reason string, price float64) {
	e.rejectedEntries++
	metrics.RejectedEntries.WithLabelValues(reason).Inc()
	e.logger.Debug("entry skipped", zap.String("reason", reason), zap.Float64("price", price))
}

// CalculateResults 根据已平仓交易与权益曲线计算指标。
func (e *Engine) CalculateResults() Metrics {
	gross := 0.0
	net := 0.0
	for _, t := range e.closed {
		gross += t.GrossPnL
		net += t.NetPnL
	}
	trades := make([]ClosedTrade, len(e.closed))
	copy(trades, e.closed)
	curve := make([]EquityPoint, len(e.equity))
	copy(curve, e.equity)

	final := e.balance
	for _, p := range e.positions {
		final += p.Margin
	}
	return computeMetrics(metricInputs{
		initial:     e.cfg.InitialBalance,
		final:       final,
		totalPnL:    net,
		grossPnL:    gross,
		trades:      trades,
		equity:      curve,
		tradingFees: e.tradingFees,
		fundingFees: e.fundingFees,
		slippage:    e.slippage,
		barInterval: e.cfg.BarInterval,
	})
}

func opposite(s Side) Side {
	if s == Long {
		return Short
	}
	return Long
}
