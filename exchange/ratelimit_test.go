package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_MaxWait(t *testing.T) {
	l := NewRateLimiter(1, 1, 10*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	assert.ErrorIs(t, l.Acquire(context.Background()), ErrRateLimited)
}

func TestRateLimiter_Refill(t *testing.T) {
	l := NewRateLimiter(10, 1, time.Second)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.last = now
	require.NoError(t, l.Acquire(context.Background()))

	now = now.Add(200 * time.Millisecond)
	assert.NoError(t, l.Acquire(context.Background()))
}

func TestRateLimiter_Cancel(t *testing.T) {
	l := NewRateLimiter(0.1, 1, 0)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}
