package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return NewCircuitBreaker(cfg, NewSimClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := newTestBreaker(CircuitBreakerConfig{})
	assert.Equal(t, 5, cb.cfg.MaxConsecutiveLosses)
	assert.Equal(t, 24, cb.cfg.CooldownBars)
	assert.Equal(t, 3, cb.cfg.HalfOpenMaxTry)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ConsecutiveLossesTrip(t *testing.T) {
	cb := newTestBreaker(CircuitBreakerConfig{MaxConsecutiveLosses: 3, CooldownBars: 2, HalfOpenMaxTry: 2})

	cb.RecordTradeResult(-1)
	cb.RecordTradeResult(-1)
	cb.RecordTradeResult(5) // 盈利打断连续亏损
	cb.RecordTradeResult(-1)
	cb.RecordTradeResult(-1)
	assert.Equal(t, StateClosed, cb.GetState())

	cb.RecordTradeResult(-1)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.AllowTrade())
	assert.ErrorIs(t, cb.Check(), ErrCircuitOpen)
	assert.Equal(t, "consecutive_losses", cb.Stats().LastReason)
}

func TestCircuitBreaker_CooldownAndProbes(t *testing.T) {
	tests := []struct {
		name   string
		probes []float64
		want   State
	}{
		{"试探全部盈利后关闭", []float64{1, 2}, StateClosed},
		{"试探亏损重新打开", []float64{1, -1}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := newTestBreaker(CircuitBreakerConfig{MaxConsecutiveLosses: 1, CooldownBars: 2, HalfOpenMaxTry: 2})
			cb.RecordTradeResult(-1)
			assert.Equal(t, StateOpen, cb.GetState())

			cb.RecordEquity(100)
			assert.False(t, cb.AllowTrade())
			cb.RecordEquity(100)

			// 冷却结束，进入半开并放行两次试探
			assert.True(t, cb.AllowTrade())
			assert.Equal(t, StateHalfOpen, cb.GetState())
			assert.True(t, cb.AllowTrade())
			assert.False(t, cb.AllowTrade())

			for _, p := range tt.probes {
				cb.RecordTradeResult(p)
			}
			assert.Equal(t, tt.want, cb.GetState())
		})
	}
}

func TestCircuitBreaker_DrawdownTrip(t *testing.T) {
	cb := newTestBreaker(CircuitBreakerConfig{MaxDrawdownPct: 10, CooldownBars: 1})
	cb.RecordEquity(10000)
	cb.RecordEquity(9500)
	assert.Equal(t, StateClosed, cb.GetState())
	cb.RecordEquity(8900)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, 1, cb.Stats().Trips)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.Stats().Trips)
}

func TestCircuitBreaker_NotifiesOnTrip(t *testing.T) {
	alert := &memAlert{}
	cb := newTestBreaker(CircuitBreakerConfig{MaxConsecutiveLosses: 1})
	cb.SetNotifier(NewNotifier(alert, nil))
	cb.ForceOpen()
	assert.Equal(t, "CircuitBreaker", alert.typ)
	assert.False(t, cb.AllowTrade())
}
