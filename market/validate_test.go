package market

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"正常价格", 100, false},
		{"零", 0, true},
		{"负数", -1, true},
		{"NaN", math.NaN(), true},
		{"Inf", math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrice(tt.price)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePrice(%v) err=%v wantErr=%v", tt.price, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPrice) {
				t.Fatalf("expected ErrInvalidPrice, got %v", err)
			}
		})
	}
}

func TestValidateBar(t *testing.T) {
	ts := time.Unix(0, 0)
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"合法", Bar{ts, 100, 101, 99, 100.5, 10}, false},
		{"高价低于收盘", Bar{ts, 100, 100.2, 99, 100.5, 10}, true},
		{"低价高于开盘", Bar{ts, 100, 101, 100.1, 100.5, 10}, true},
		{"负成交量", Bar{ts, 100, 101, 99, 100.5, -1}, true},
		{"NaN收盘", Bar{ts, 100, 101, 99, math.NaN(), 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBar(tt.bar)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBar) {
				t.Fatalf("expected ErrInvalidBar, got %v", err)
			}
		})
	}
}

func TestValidateSeriesOrdering(t *testing.T) {
	ts := time.Unix(0, 0)
	s := Series{
		{ts, 100, 101, 99, 100, 1},
		{ts, 100, 101, 99, 100, 1},
	}
	if err := ValidateSeries(s); !errors.Is(err, ErrInvalidBar) {
		t.Fatalf("expected ErrInvalidBar for duplicate timestamp, got %v", err)
	}
	s[1].Timestamp = ts.Add(time.Hour)
	if err := ValidateSeries(s); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestValidateTicker(t *testing.T) {
	now := time.Unix(1000, 0)
	fresh := Ticker{Last: 100, Bid: 99.9, Ask: 100.1, Timestamp: now.Add(-time.Second)}
	if err := ValidateTicker(fresh, now, 5*time.Second); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	stale := fresh
	stale.Timestamp = now.Add(-time.Minute)
	if err := ValidateTicker(stale, now, 5*time.Second); !errors.Is(err, ErrStaleTicker) {
		t.Fatalf("expected ErrStaleTicker, got %v", err)
	}

	crossed := fresh
	crossed.Bid, crossed.Ask = 100.2, 100.1
	if err := ValidateTicker(crossed, now, 0); !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("expected ErrCrossedBook, got %v", err)
	}

	bad := fresh
	bad.Last = math.Inf(-1)
	if err := ValidateTicker(bad, now, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestValidateIndicators(t *testing.T) {
	ind := map[string]float64{"rsi": 30, "ema": 100, "atr": math.NaN()}
	if err := ValidateIndicators(ind, "rsi", "ema"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := ValidateIndicators(ind, "macd"); !errors.Is(err, ErrMalformedIndicators) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if err := ValidateIndicators(ind, "atr"); !errors.Is(err, ErrMalformedIndicators) {
		t.Fatalf("expected NaN error, got %v", err)
	}
	if err := ValidateIndicators(nil); !errors.Is(err, ErrMalformedIndicators) {
		t.Fatalf("expected nil map error, got %v", err)
	}
}
