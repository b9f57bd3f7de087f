package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"perp-mm-lab/market"
)

var (
	ErrNoData      = errors.New("no market data")
	ErrInvalidData = errors.New("invalid market data")
	ErrInvalidSide = errors.New("invalid signal side")

	ErrPositionNotFound = errors.New("position not open")
)

// Side 持仓方向。
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// ParseSide 接受 long/short/BUY/SELL（大小写不敏感）。
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Sign long=+1, short=-1。
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Signal 策略输出。Amount/Leverage 为 0 时由引擎按配置决定；StopLoss/TakeProfit 为 0 表示不设置。
type Signal struct {
	Side       Side    `json:"side"`
	Amount     float64 `json:"amount,omitempty"`
	Leverage   float64 `json:"leverage,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SideSignal 由裸方向字符串构造信号；无法识别时返回 nil。
func SideSignal(s string) *Signal {
	side, err := ParseSide(s)
	if err != nil {
		return nil
	}
	return &Signal{Side: side}
}

// StrategyFunc 策略契约：f(当前K线, 可用余额, 当前持仓) → 信号或 nil。
// 持仓切片是副本，策略修改它不会影响引擎。
type StrategyFunc func(bar market.Bar, balance float64, open []Position) *Signal

// Position 未平仓头寸，仅由引擎的开平仓逻辑修改。
type Position struct {
	ID         int       `json:"id"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Amount     float64   `json:"amount"`
	Leverage   float64   `json:"leverage"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Margin     float64   `json:"margin"`
	EntryFee   float64   `json:"entry_fee"`
}

// Notional 开仓名义价值。
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Amount
}

// UnrealizedPnL 按 mark 计算的浮动盈亏。
func (p Position) UnrealizedPnL(mark float64) float64 {
	return p.Side.Sign() * (mark - p.EntryPrice) * p.Amount
}

// Exit reasons
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal_reverse"
	ExitEndOfData  = "end_of_data"
	ExitDeRisk     = "de_risk"
	ExitMakerFill  = "maker_fill"
	ExitHedge      = "hedge"
)

// ClosedTrade 已平仓交易，创建后不再修改。NetPnL = GrossPnL − TradingFees − FundingFees。
type ClosedTrade struct {
	Side        Side      `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Amount      float64   `json:"amount"`
	Leverage    float64   `json:"leverage"`
	GrossPnL    float64   `json:"gross_pnl"`
	TradingFees float64   `json:"trading_fees"`
	FundingFees float64   `json:"funding_fees"`
	NetPnL      float64   `json:"net_pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	ExitReason  string    `json:"exit_reason"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
}

// EquityPoint Balance 为钱包余额（含占用保证金），Equity = Balance + 浮动盈亏。
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Balance   float64   `json:"balance"`
	Equity    float64   `json:"equity"`
}

// Metrics 单次回测的固定指标集合。
type Metrics struct {
	TotalTrades      int           `json:"total_trades"`
	WinningTrades    int           `json:"winning_trades"`
	LosingTrades     int           `json:"losing_trades"`
	WinRate          float64       `json:"win_rate"` // 百分比
	ProfitFactor     float64       `json:"profit_factor"`
	TotalPnL         float64       `json:"total_pnl"`
	GrossPnL         float64       `json:"gross_pnl"`
	TotalPnLPct      float64       `json:"total_pnl_pct"`
	FinalBalance     float64       `json:"final_balance"`
	SharpeRatio      float64       `json:"sharpe_ratio"`
	SortinoRatio     float64       `json:"sortino_ratio"`
	MaxDrawdown      float64       `json:"max_drawdown"`
	MaxDrawdownPct   float64       `json:"max_drawdown_pct"`
	TotalTradingFees float64       `json:"total_trading_fees"`
	TotalFundingFees float64       `json:"total_funding_fees"`
	TotalSlippage    float64       `json:"total_slippage"`
	TotalFees        float64       `json:"total_fees"`
	FeeImpactPct     float64       `json:"fee_impact_pct"`
	Trades           []ClosedTrade `json:"trades"`
	EquityCurve      []EquityPoint `json:"equity_curve"`
}

// MMMetrics 做市回测的附加指标。
type MMMetrics struct {
	MakerFills           int     `json:"maker_fills"`
	TakerFills           int     `json:"taker_fills"`
	HedgeTrades          int     `json:"hedge_trades"`
	AvgInventory         float64 `json:"avg_inventory"`
	MinInventory         float64 `json:"min_inventory"`
	MaxInventory         float64 `json:"max_inventory"`
	TotalFundingPaid     float64 `json:"total_funding_paid"`
	AdverseSelectionRate float64 `json:"adverse_selection_rate"`
}

// Result 方向性回测结果。
type Result struct {
	Metrics
	RejectedEntries int       `json:"-"`
	Bars            int       `json:"-"`
	Start           time.Time `json:"-"`
	End             time.Time `json:"-"`
}

// MMResult 做市回测结果。
type MMResult struct {
	Metrics
	MMMetrics
	RejectedOrders   int  `json:"-"`
	SkippedBars      int  `json:"-"`
	ToxicBars        int  `json:"-"`
	CapitalExhausted bool `json:"-"`
}
