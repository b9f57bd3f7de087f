package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyGuard(t *testing.T) {
	clock := NewSimClock(time.Unix(0, 0))
	guard := NewLatencyGuard(100*time.Millisecond, clock)

	assert.NoError(t, guard.PreOrder("BTC", 1))
	assert.NoError(t, guard.PreOrder("BTC", -1), "反方向不受限制")
	assert.ErrorIs(t, guard.PreOrder("BTC", 1), ErrTooFrequent)
	assert.NoError(t, guard.PreOrder("ETH", 1), "不同交易对分别计时")

	clock.Advance(200 * time.Millisecond)
	assert.NoError(t, guard.PreOrder("BTC", 1))
}
