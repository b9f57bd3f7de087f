package market

import "math"

// CalculateImbalance calculates the imbalance between bid and ask volumes
// Imbalance = (BidVol - AskVol) / (BidVol + AskVol)
func CalculateImbalance(bidVolumeTop float64, askVolumeTop float64) float64 {
	totalVolume := bidVolumeTop + askVolumeTop
	if totalVolume == 0 {
		return 0
	}
	return (bidVolumeTop - askVolumeTop) / totalVolume
}

// OrderFlowImbalance 基于相邻两个盘口快照的一档订单流失衡（Cont-Kukanov-Stoikov），
// 用两档总量归一化到 [-1,1]。
func OrderFlowImbalance(prev, curr BookSnapshot) float64 {
	if len(prev.Bids) == 0 || len(prev.Asks) == 0 || len(curr.Bids) == 0 || len(curr.Asks) == 0 {
		return 0
	}
	pb, cb := prev.Bids[0], curr.Bids[0]
	pa, ca := prev.Asks[0], curr.Asks[0]

	var bidFlow float64
	switch {
	case cb.Price > pb.Price:
		bidFlow = cb.Qty
	case cb.Price < pb.Price:
		bidFlow = -pb.Qty
	default:
		bidFlow = cb.Qty - pb.Qty
	}
	var askFlow float64
	switch {
	case ca.Price < pa.Price:
		askFlow = ca.Qty
	case ca.Price > pa.Price:
		askFlow = -pa.Qty
	default:
		askFlow = ca.Qty - pa.Qty
	}

	norm := pb.Qty + pa.Qty + cb.Qty + ca.Qty
	if norm <= 0 {
		return 0
	}
	return clampUnit((bidFlow - askFlow) / norm)
}

// TradeFlowImbalance 主动买卖量的净额占比，范围 [-1,1]。
func TradeFlowImbalance(trades []Trade) float64 {
	signed, total := 0.0, 0.0
	for _, tr := range trades {
		signed += tr.SignedAmount()
		total += math.Abs(tr.Amount)
	}
	if total == 0 {
		return 0
	}
	return clampUnit(signed / total)
}

// BarFlowImbalance 用K线实体相对振幅近似订单流方向；无振幅时为 0。
func BarFlowImbalance(b Bar) float64 {
	rng := b.High - b.Low
	if rng <= 0 {
		return 0
	}
	return clampUnit((b.Close - b.Open) / rng)
}

func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
