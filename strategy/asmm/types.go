package asmm

// Side represents order side.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Quote represents a single quote.
type Quote struct {
	Price float64
	Size  float64
	Side  Side
}

// MarketState 一次行情更新的输入。Volatility 为价格单位的波动率。
type MarketState struct {
	MidPrice           float64
	Volatility         float64
	Inventory          float64
	Microprice         *float64
	OrderFlowImbalance float64
	KyleLambda         float64
	ShortVolatility    *float64
}

// InventoryRecord 库存变动记录。
type InventoryRecord struct {
	Step      int
	Qty       float64
	Price     float64
	Inventory float64
}
