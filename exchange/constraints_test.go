package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolConstraints(t *testing.T) {
	c := SymbolConstraints{TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MaxQty: 100, MinNotional: 5}

	p, q := c.Round(100.26, 0.12345)
	assert.Equal(t, 100.3, p)
	assert.Equal(t, 0.123, q)

	tests := []struct {
		name    string
		price   float64
		qty     float64
		wantErr bool
	}{
		{"合法订单", 100.3, 0.123, false},
		{"价格不对齐", 100.33, 0.123, true},
		{"数量不对齐", 100.3, 0.1234, true},
		{"数量超上限", 100.3, 101, true},
		{"名义过小", 100.3, 0.01, true},
		{"零数量", 100.3, 0, true},
		{"市价单跳过价格检查", 0, 0.123, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Validate(tt.price, tt.qty)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
