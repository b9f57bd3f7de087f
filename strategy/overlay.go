package strategy

import (
	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
	"perp-mm-lab/risk"
)

// OverlayGate 组合熔断器与自适应置信度，实现 backtest.TradeGate。
type OverlayGate struct {
	Breaker    *risk.CircuitBreaker
	Confidence *risk.AdaptiveConfidence
}

func (g OverlayGate) AllowTrade() bool {
	return g.Breaker == nil || g.Breaker.AllowTrade()
}

func (g OverlayGate) RecordTradeResult(pnl float64) {
	if g.Breaker != nil {
		g.Breaker.RecordTradeResult(pnl)
	}
	if g.Confidence != nil {
		g.Confidence.RecordOutcome(pnl)
	}
}

func (g OverlayGate) RecordEquity(equity float64) {
	if g.Breaker != nil {
		g.Breaker.RecordEquity(equity)
	}
}

// SmartExitUpdater 用 risk.SmartExits 做移动止损，实现 backtest.StopUpdater。
type SmartExitUpdater struct {
	Exits *risk.SmartExits
	ATR   func() float64
}

func (u SmartExitUpdater) UpdateStops(pos *backtest.Position, bar market.Bar) {
	if u.Exits == nil || u.ATR == nil {
		return
	}
	stop, _ := u.Exits.Update(pos.Side == backtest.Long, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, u.ATR(), bar)
	pos.StopLoss = stop
}

// Install 把策略的叠加层挂到引擎上；breaker 可为 nil。
func (m *Momentum) Install(e *backtest.Engine, breaker *risk.CircuitBreaker) {
	if breaker != nil || m.confidence != nil {
		e.SetGate(OverlayGate{Breaker: breaker, Confidence: m.confidence})
	}
	if m.exits != nil {
		e.SetStopUpdater(SmartExitUpdater{Exits: m.exits, ATR: m.LastATR})
	}
}
