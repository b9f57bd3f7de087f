package sim

import (
	"math"
	"math/rand"
	"time"
)

// LatencyModel 在 [MinMs, MaxMs] 内均匀抽样下单延迟。
type LatencyModel struct {
	MinMs float64
	MaxMs float64
	rng   *rand.Rand
}

func NewLatencyModel(minMs, maxMs float64, rng *rand.Rand) *LatencyModel {
	if maxMs < minMs {
		minMs, maxMs = maxMs, minMs
	}
	return &LatencyModel{MinMs: minMs, MaxMs: maxMs, rng: rng}
}

// Draw 抽样一次延迟。
func (l *LatencyModel) Draw() time.Duration {
	ms := l.MinMs
	if l.MaxMs > l.MinMs && l.rng != nil {
		ms += l.rng.Float64() * (l.MaxMs - l.MinMs)
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// BarsDelay 把一次延迟换算为需要等待的K线根数，至少为 1。
func (l *LatencyModel) BarsDelay(barInterval time.Duration) int {
	if barInterval <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(l.Draw()) / float64(barInterval)))
	if n < 1 {
		return 1
	}
	return n
}
