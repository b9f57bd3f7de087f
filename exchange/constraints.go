package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 交易对的价格步长、数量步长与名义限制，0 表示不限制。
type SymbolConstraints struct {
	TickSize    float64 `yaml:"tick_size" json:"tick_size"`
	StepSize    float64 `yaml:"step_size" json:"step_size"`
	MinQty      float64 `yaml:"min_qty" json:"min_qty"`
	MaxQty      float64 `yaml:"max_qty" json:"max_qty"`
	MinNotional float64 `yaml:"min_notional" json:"min_notional"`
}

// Round 价格取最近的 tick，数量向下取整到 step。用十进制运算避免 0.1+0.2 一类误差。
func (c SymbolConstraints) Round(price, qty float64) (float64, float64) {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(qty)
	if c.TickSize > 0 {
		tick := decimal.NewFromFloat(c.TickSize)
		p = p.Div(tick).Round(0).Mul(tick)
	}
	if c.StepSize > 0 {
		step := decimal.NewFromFloat(c.StepSize)
		q = q.Div(step).Floor().Mul(step)
	}
	pf, _ := p.Float64()
	qf, _ := q.Float64()
	return pf, qf
}

// Validate 检查精度、数量上下限和最小名义。price<=0 (市价单) 时跳过价格相关检查。
func (c SymbolConstraints) Validate(price, qty float64) error {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(qty)
	if qty <= 0 {
		return fmt.Errorf("%w: qty %v must be positive", ErrInvalidOrder, qty)
	}
	if c.TickSize > 0 && price > 0 && !p.Mod(decimal.NewFromFloat(c.TickSize)).IsZero() {
		return fmt.Errorf("%w: price %s not aligned to tick %v", ErrInvalidOrder, p, c.TickSize)
	}
	if c.StepSize > 0 && !q.Mod(decimal.NewFromFloat(c.StepSize)).IsZero() {
		return fmt.Errorf("%w: qty %s not aligned to step %v", ErrInvalidOrder, q, c.StepSize)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("%w: qty %v < min %v", ErrInvalidOrder, qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("%w: qty %v > max %v", ErrInvalidOrder, qty, c.MaxQty)
	}
	if c.MinNotional > 0 && price > 0 && p.Mul(q).LessThan(decimal.NewFromFloat(c.MinNotional)) {
		return fmt.Errorf("%w: notional %s < min %v", ErrInvalidOrder, p.Mul(q), c.MinNotional)
	}
	return nil
}
