package market

import (
	"math"
	"testing"
	"time"
)

func TestOrderBookApplyAndMid(t *testing.T) {
	ob := NewOrderBook()
	ob.ApplyDelta(map[float64]float64{100: 1, 99.5: 2}, map[float64]float64{101: 1.5, 102: 3})
	bid, ask := ob.Best()
	if bid != 100 || ask != 101 {
		t.Fatalf("unexpected best bid/ask: %f/%f", bid, ask)
	}
	if mid := ob.Mid(); mid != 100.5 {
		t.Fatalf("unexpected mid %f", mid)
	}
	// 删除一档
	ob.ApplyDelta(map[float64]float64{100: 0}, map[float64]float64{})
	bid, _ = ob.Best()
	if bid != 99.5 {
		t.Fatalf("expected best bid 99.5 got %f", bid)
	}
}

func TestEstimateFillPrice(t *testing.T) {
	ob := NewOrderBook()
	ob.ApplyDelta(map[float64]float64{100: 1, 99.5: 3}, map[float64]float64{101: 2, 102.5: 5})
	price, cum := ob.EstimateFillPrice(DepthSideAsk, 3)
	if price != 102.5 {
		t.Fatalf("expected ask depth price 102.5 got %.2f", price)
	}
	if cum != 7 { // 2 + 5
		t.Fatalf("unexpected cumulative %.2f", cum)
	}
	price, cum = ob.EstimateFillPrice(DepthSideBid, 2)
	if price != 99.5 {
		t.Fatalf("expected bid depth price 99.5 got %.2f", price)
	}
	if cum != 4 { // 1 + 3
		t.Fatalf("unexpected bid cumulative %.2f", cum)
	}
}

func TestSnapshotOrderingAndMicroprice(t *testing.T) {
	ob := NewOrderBook()
	ob.ApplyDelta(map[float64]float64{99: 5, 100: 1}, map[float64]float64{102: 4, 101: 3})
	snap := ob.Snapshot(1, time.Unix(0, 0))
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 100 {
		t.Fatalf("unexpected bids %+v", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != 101 {
		t.Fatalf("unexpected asks %+v", snap.Asks)
	}
	// (100*3 + 101*1)/4 = 100.25
	if mp := snap.Microprice(); math.Abs(mp-100.25) > 1e-9 {
		t.Fatalf("expected microprice 100.25 got %f", mp)
	}
	if imb := snap.Imbalance(1); math.Abs(imb-(-0.5)) > 1e-9 {
		t.Fatalf("expected imbalance -0.5 got %f", imb)
	}
}

func TestSnapshotVWAP(t *testing.T) {
	snap := BookSnapshot{
		Asks: []Level{{Price: 101, Qty: 2}, {Price: 102, Qty: 2}},
	}
	vwap, filled := snap.EstimateFillPrice(DepthSideAsk, 3)
	if filled != 3 {
		t.Fatalf("expected filled 3 got %f", filled)
	}
	if math.Abs(vwap-(101*2+102)/3.0) > 1e-9 {
		t.Fatalf("unexpected vwap %f", vwap)
	}
	_, filled = snap.EstimateFillPrice(DepthSideBid, 1)
	if filled != 0 {
		t.Fatalf("empty side should not fill, got %f", filled)
	}
}
