package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Limits 下单数量约束，0 表示不限制。
type Limits struct {
	SingleMax float64 `yaml:"single_max"`
	DailyMax  float64 `yaml:"daily_max"`
	NetMax    float64 `yaml:"net_max"`
}

// Inventory 提供按交易对的净仓位。
type Inventory interface {
	NetExposure(symbol string) float64
}

// LimitChecker 维护日累计成交量与净敞口校验。
type LimitChecker struct {
	mu       sync.Mutex
	cfg      *Limits
	inv      Inventory
	dayVol   map[string]float64
	dayReset time.Time
	clock    Clock
}

// NewLimitChecker clock 为 nil 时使用真实时间。
func NewLimitChecker(cfg *Limits, inv Inventory, clock Clock) *LimitChecker {
	if clock == nil {
		clock = NowUTC
	}
	return &LimitChecker{
		cfg:      cfg,
		inv:      inv,
		dayVol:   make(map[string]float64),
		dayReset: clock.Now(),
		clock:    clock,
	}
}

// PreOrder 校验下单前约束；deltaQty 为本次下单数量（正买负卖）。
// 被拒绝的订单不计入日累计。
func (lc *LimitChecker) PreOrder(symbol string, deltaQty float64) error {
	if lc.cfg == nil {
		return errors.New("limits not configured")
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := lc.clock.Now()
	if now.Sub(lc.dayReset) >= 24*time.Hour {
		lc.dayVol = make(map[string]float64)
		lc.dayReset = now
	}

	absQty := math.Abs(deltaQty)
	if lc.cfg.SingleMax > 0 && absQty > lc.cfg.SingleMax {
		return fmt.Errorf("%w: %.4f > single %.4f", ErrSingleExceed, absQty, lc.cfg.SingleMax)
	}
	if lc.cfg.DailyMax > 0 && lc.dayVol[symbol]+absQty > lc.cfg.DailyMax {
		return fmt.Errorf("%w: %.4f > daily %.4f", ErrDailyExceed, lc.dayVol[symbol]+absQty, lc.cfg.DailyMax)
	}
	if lc.inv != nil && lc.cfg.NetMax > 0 {
		net := lc.inv.NetExposure(symbol) + deltaQty
		if math.Abs(net) > lc.cfg.NetMax {
			return fmt.Errorf("%w: %.4f > net %.4f", ErrNetExceed, net, lc.cfg.NetMax)
		}
	}
	lc.dayVol[symbol] += absQty
	return nil
}

// DailyVolume 当日累计量。
func (lc *LimitChecker) DailyVolume(symbol string) float64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.dayVol[symbol]
}
