package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidBar          = errors.New("invalid bar")
	ErrStaleTicker         = errors.New("stale ticker")
	ErrCrossedBook         = errors.New("crossed book")
	ErrMalformedIndicators = errors.New("malformed indicators")
)

// ValidatePrice 拒绝 NaN/Inf/非正价格。
func ValidatePrice(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, p)
	}
	return nil
}

// ValidateBar 校验 OHLC 合法性与高低价包络。
func ValidateBar(b Bar) error {
	for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if err := ValidatePrice(p); err != nil {
			return fmt.Errorf("%w at %s: %v", ErrInvalidBar, b.Timestamp.Format(time.RFC3339), err)
		}
	}
	if b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) || b.High < b.Low {
		return fmt.Errorf("%w at %s: high/low envelope o=%v h=%v l=%v c=%v",
			ErrInvalidBar, b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("%w at %s: volume %v", ErrInvalidBar, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// ValidateSeries 逐根校验并检查时间单调递增。
func ValidateSeries(s Series) error {
	for i, b := range s {
		if err := ValidateBar(b); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !b.Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("bar %d: %w: timestamp not increasing", i, ErrInvalidBar)
		}
	}
	return nil
}

// ValidateTicker 检查价格、时效与买卖价交叉；maxAge<=0 不检查时效。
func ValidateTicker(t Ticker, now time.Time, maxAge time.Duration) error {
	if err := ValidatePrice(t.Last); err != nil {
		return fmt.Errorf("ticker last: %w", err)
	}
	if t.Bid != 0 {
		if err := ValidatePrice(t.Bid); err != nil {
			return fmt.Errorf("ticker bid: %w", err)
		}
	}
	if t.Ask != 0 {
		if err := ValidatePrice(t.Ask); err != nil {
			return fmt.Errorf("ticker ask: %w", err)
		}
	}
	if t.Bid > 0 && t.Ask > 0 && t.Bid > t.Ask {
		return fmt.Errorf("%w: bid %v > ask %v", ErrCrossedBook, t.Bid, t.Ask)
	}
	if maxAge > 0 && now.Sub(t.Timestamp) > maxAge {
		return fmt.Errorf("%w: age %s > %s", ErrStaleTicker, now.Sub(t.Timestamp), maxAge)
	}
	return nil
}

// ValidateIndicators 要求所有 required 键存在且为有限数。
func ValidateIndicators(ind map[string]float64, required ...string) error {
	if ind == nil {
		return fmt.Errorf("%w: nil map", ErrMalformedIndicators)
	}
	for _, k := range required {
		v, ok := ind[k]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrMalformedIndicators, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q=%v", ErrMalformedIndicators, k, v)
		}
	}
	return nil
}
