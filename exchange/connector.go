// Package exchange 定义交易所协作接口，并提供纸面回放连接器、限流、异步扇出、
// 精度约束、标记价格流与多场所成本估算。
package exchange

import (
	"context"
	"errors"
	"time"

	"perp-mm-lab/market"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrNoMarketData  = errors.New("no market data at cursor")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrIDCollision   = errors.New("order id collision")
	ErrRateLimited   = errors.New("rate limit wait exceeded")
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusFilled   OrderStatus = "FILLED"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusRejected OrderStatus = "REJECTED"
)

// OrderRequest 下单请求；ClientID 为空时由连接器生成。
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Price      float64   `json:"price,omitempty"`
	Qty        float64   `json:"qty"`
	ReduceOnly bool      `json:"reduce_only,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
}

// OrderAck 交易所回执。
type OrderAck struct {
	OrderID   string      `json:"order_id"`
	ClientID  string      `json:"client_id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Status    OrderStatus `json:"status"`
	Price     float64     `json:"price"`
	Qty       float64     `json:"qty"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
	Fee       float64     `json:"fee"`
	Timestamp time.Time   `json:"timestamp"`
}

// Connector 交易所接口。GetFundingRate 的 bool 表示交易对是否有资金费（永续）。
type Connector interface {
	GetTicker(ctx context.Context, symbol string) (market.Ticker, error)
	GetOrderbook(ctx context.Context, symbol string, depth int) (market.BookSnapshot, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, bool, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// Canceler 支持批量撤单的连接器。
type Canceler interface {
	CancelAll(ctx context.Context, symbol string) (int, error)
}

// FillFeed 异步成交回报（挂单在之后的行情中成交）。DrainFills 返回上次调用以来的成交并清空。
type FillFeed interface {
	DrainFills() []OrderAck
}

// FundingSource 提供最新资金费率。
type FundingSource interface {
	FundingRate(symbol string) (float64, bool)
}
