package market

import "testing"

func TestTradeSignedAmount(t *testing.T) {
	tests := []struct {
		name  string
		trade Trade
		want  float64
	}{
		{"主动买", Trade{Amount: 2, Side: "buy"}, 2},
		{"大写买", Trade{Amount: 2, Side: "BUY"}, 2},
		{"主动卖", Trade{Amount: 3, Side: "sell"}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trade.SignedAmount(); got != tt.want {
				t.Errorf("SignedAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickerMid(t *testing.T) {
	if m := (Ticker{Last: 10, Bid: 9, Ask: 11}).Mid(); m != 10 {
		t.Errorf("expected mid 10 got %f", m)
	}
	if m := (Ticker{Last: 10.5}).Mid(); m != 10.5 {
		t.Errorf("expected fallback to last, got %f", m)
	}
}
