package sim

import (
	"errors"
	"fmt"

	"perp-mm-lab/inventory"
)

var ErrInvalidFill = errors.New("invalid fill")

// Account 做市账户：现金记账，库存与成本由 inventory.Tracker 维护。
type Account struct {
	Capital float64
	Fees    float64
	tracker inventory.Tracker
}

// FillResult 单笔成交对账户的影响。
type FillResult struct {
	Fee      float64
	Realized float64 // 不含手续费
}

func NewAccount(capital float64) *Account {
	return &Account{Capital: capital}
}

// ApplyFill 买入扣减现金、卖出增加现金，并扣除手续费（feeRate 可为负表示返佣）。
func ApplyFill(acct *Account, side Side, qty, price, feeRate float64) (FillResult, error) {
	if acct == nil {
		return FillResult{}, fmt.Errorf("%w: nil account", ErrInvalidFill)
	}
	if qty <= 0 || price <= 0 {
		return FillResult{}, fmt.Errorf("%w: qty=%v price=%v", ErrInvalidFill, qty, price)
	}
	notional := qty * price
	fee := notional * feeRate
	var delta float64
	switch side {
	case Buy:
		acct.Capital -= notional
		delta = qty
	case Sell:
		acct.Capital += notional
		delta = -qty
	default:
		return FillResult{}, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}
	acct.Capital -= fee
	acct.Fees += fee
	realized := acct.tracker.Update(delta, price)
	return FillResult{Fee: fee, Realized: realized}, nil
}

// Inventory 当前带符号库存。
func (a *Account) Inventory() float64 { return a.tracker.NetExposure() }

// AvgCost 持仓均价。
func (a *Account) AvgCost() float64 { return a.tracker.AvgCost() }

// Equity = 现金 + 库存按 mark 估值。
func (a *Account) Equity(mark float64) float64 {
	return a.Capital + a.tracker.NetExposure()*mark
}

// Pay 资金费等现金流；amount 为正表示支付。
func (a *Account) Pay(amount float64) {
	a.Capital -= amount
}

// Tracker exposes realized round trips.
func (a *Account) Tracker() *inventory.Tracker { return &a.tracker }
