package market

import (
	"math"
	"sync"
)

// VolumeBucket 一个等成交量桶内的主动买卖量。
type VolumeBucket struct {
	BuyVolume   float64
	SellVolume  float64
	TotalVolume float64
}

func (b VolumeBucket) imbalance() float64 { return math.Abs(b.BuyVolume - b.SellVolume) }

// VPINCalculator 成交量同步的知情交易概率：最近 maxBuckets 个满桶的
// Σ|买-卖| / Σ总量。跨桶的成交按比例拆分，桶容量严格等于 bucketSize。
type VPINCalculator struct {
	mu        sync.RWMutex
	size      float64
	threshold float64

	ring   []VolumeBucket // 环形缓冲，next 指向下一个写入位置
	next   int
	filled int
	cur    VolumeBucket

	sumImb float64
	sumVol float64
}

func NewVPINCalculator(bucketSize float64, maxBuckets int, toxicThreshold float64) *VPINCalculator {
	if maxBuckets <= 0 {
		maxBuckets = 50
	}
	return &VPINCalculator{
		size:      bucketSize,
		threshold: toxicThreshold,
		ring:      make([]VolumeBucket, maxBuckets),
	}
}

// AddTrade 按主动方向计入。
func (v *VPINCalculator) AddTrade(t Trade) {
	if t.IsBuy() {
		v.add(t.Amount, 0)
		return
	}
	v.add(0, t.Amount)
}

// AddBar K线没有逐笔方向，用批量成交量分类：买入占比 Φ(Δp/σ)。
func (v *VPINCalculator) AddBar(b Bar, sigma float64) {
	if b.Volume <= 0 {
		return
	}
	buyFrac := 0.5
	if sigma > 0 {
		buyFrac = normCDF((b.Close - b.Open) / sigma)
	}
	v.add(b.Volume*buyFrac, b.Volume*(1-buyFrac))
}

func (v *VPINCalculator) add(buy, sell float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.size <= 0 {
		return
	}
	for total := buy + sell; total > 0; total = buy + sell {
		room := v.size - v.cur.TotalVolume
		if total <= room+1e-12 {
			v.cur.BuyVolume += buy
			v.cur.SellVolume += sell
			v.cur.TotalVolume += total
			buy, sell = 0, 0
		} else {
			frac := room / total
			v.cur.BuyVolume += buy * frac
			v.cur.SellVolume += sell * frac
			v.cur.TotalVolume = v.size
			buy -= buy * frac
			sell -= sell * frac
		}
		if v.cur.TotalVolume >= v.size-1e-12 {
			v.pushLocked(v.cur)
			v.cur = VolumeBucket{}
		}
	}
}

func (v *VPINCalculator) pushLocked(b VolumeBucket) {
	if v.filled == len(v.ring) {
		old := v.ring[v.next]
		v.sumImb -= old.imbalance()
		v.sumVol -= old.TotalVolume
	} else {
		v.filled++
	}
	v.ring[v.next] = b
	v.next = (v.next + 1) % len(v.ring)
	v.sumImb += b.imbalance()
	v.sumVol += b.TotalVolume
}

// VPIN 当前值，无满桶时为 0。
func (v *VPINCalculator) VPIN() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.sumVol <= 0 {
		return 0
	}
	return math.Max(0, v.sumImb/v.sumVol)
}

func (v *VPINCalculator) IsToxic() bool {
	return v.VPIN() > v.threshold
}

// IsReady 满桶数达到窗口一半。
func (v *VPINCalculator) IsReady() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filled >= len(v.ring)/2
}

func (v *VPINCalculator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.ring {
		v.ring[i] = VolumeBucket{}
	}
	v.next, v.filled = 0, 0
	v.cur = VolumeBucket{}
	v.sumImb, v.sumVol = 0, 0
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
