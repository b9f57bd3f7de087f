package market

import "time"

// Trade represents a normalized trade tick.
type Trade struct {
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Side      string    `json:"side"` // buy / sell (taker side)
	Timestamp time.Time `json:"timestamp"`
}

// IsBuy reports whether the aggressor was a buyer.
func (t Trade) IsBuy() bool {
	return t.Side == "buy" || t.Side == "BUY"
}

// SignedAmount 买为正、卖为负。
func (t Trade) SignedAmount() float64 {
	if t.IsBuy() {
		return t.Amount
	}
	return -t.Amount
}

// Ticker 最新行情。
type Ticker struct {
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns (bid+ask)/2, or Last when either side is missing.
func (t Ticker) Mid() float64 {
	if t.Bid <= 0 || t.Ask <= 0 {
		return t.Last
	}
	return (t.Bid + t.Ask) / 2
}
