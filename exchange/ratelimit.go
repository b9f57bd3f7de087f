package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter 令牌桶。Acquire 最多等待 MaxWait，超时返回 ErrRateLimited。
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	tokens  float64
	last    time.Time
	MaxWait time.Duration
	now     func() time.Time
}

func NewRateLimiter(rate float64, burst int, maxWait time.Duration) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:    rate,
		burst:   float64(burst),
		tokens:  float64(burst),
		last:    time.Now(),
		MaxWait: maxWait,
		now:     time.Now,
	}
}

// reserve 取一个令牌，返回需要等待的时长。
func (l *RateLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

func (l *RateLimiter) cancel() {
	l.mu.Lock()
	l.tokens++
	l.mu.Unlock()
}

func (l *RateLimiter) Acquire(ctx context.Context) error {
	wait := l.reserve()
	if wait == 0 {
		return nil
	}
	if l.MaxWait > 0 && wait > l.MaxWait {
		l.cancel()
		return fmt.Errorf("%w: need %s, max %s", ErrRateLimited, wait, l.MaxWait)
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
