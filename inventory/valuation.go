package inventory

// Valuation 基于当前 mark 价计算未实现盈亏。
func (t *Tracker) Valuation(mark float64) (net float64, pnl float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net = t.net
	pnl = (mark - t.cost) * t.net
	return
}

// Notional 当前持仓名义价值（绝对值）。
func (t *Tracker) Notional(mark float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.net < 0 {
		return -t.net * mark
	}
	return t.net * mark
}
