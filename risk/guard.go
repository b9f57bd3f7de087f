package risk

import "fmt"

// Guard 下单前检查，deltaQty 正买负卖。
type Guard interface {
	PreOrder(symbol string, deltaQty float64) error
}

// GuardFunc 让普通函数满足 Guard。
type GuardFunc func(symbol string, deltaQty float64) error

func (f GuardFunc) PreOrder(symbol string, deltaQty float64) error { return f(symbol, deltaQty) }

// MultiGuard 按顺序检查，遇到第一个拒绝即停止；nil 项跳过。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreOrder(symbol string, deltaQty float64) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreOrder(symbol, deltaQty); err != nil {
			return fmt.Errorf("%s %+.6g: %w", symbol, deltaQty, err)
		}
	}
	return nil
}

// UnrealizedPnL 按当前价估算某交易对的浮动盈亏。
type UnrealizedPnL interface {
	UnrealizedPnL(symbol string) float64
}

// PnLBandGuard 浮盈跌破 Floor 或超过 Ceiling 后只允许减仓方向的订单。
// Floor 为 0 表示不设下限，Ceiling 为 0 表示不设上限。
type PnLBandGuard struct {
	Floor   float64
	Ceiling float64
	Source  UnrealizedPnL
	Inv     Inventory // 可选；为 nil 时越界即拒绝所有订单
}

func (g *PnLBandGuard) PreOrder(symbol string, deltaQty float64) error {
	if g == nil || g.Source == nil {
		return nil
	}
	pnl := g.Source.UnrealizedPnL(symbol)
	var breach error
	switch {
	case g.Floor != 0 && pnl < g.Floor:
		breach = fmt.Errorf("%w: %.2f < %.2f", ErrPnLTooLow, pnl, g.Floor)
	case g.Ceiling > 0 && pnl > g.Ceiling:
		breach = fmt.Errorf("%w: %.2f > %.2f", ErrPnLTooHigh, pnl, g.Ceiling)
	default:
		return nil
	}
	if g.Inv != nil {
		net := g.Inv.NetExposure(symbol)
		// 与持仓反向且不翻仓的订单放行
		if net*deltaQty < 0 && abs(deltaQty) <= abs(net) {
			return nil
		}
	}
	return breach
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
