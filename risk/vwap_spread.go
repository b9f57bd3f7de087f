package risk

import "perp-mm-lab/market"

// BookSource 提供当前盘口快照。
type BookSource interface {
	Book(symbol string) (market.BookSnapshot, bool)
}

// SpreadGuard 盘口相对价差超过阈值时拒单；没有盘口数据时放行。
type SpreadGuard struct {
	MaxSpreadRatio float64 // (ask-bid)/mid
	Books          BookSource
}

func (g *SpreadGuard) PreOrder(symbol string, deltaQty float64) error {
	if g == nil || g.Books == nil || g.MaxSpreadRatio <= 0 {
		return nil
	}
	book, ok := g.Books.Book(symbol)
	if !ok {
		return nil
	}
	bid, ask := book.Best()
	if bid <= 0 || ask <= 0 {
		return nil
	}
	mid := (bid + ask) / 2
	if (ask-bid)/mid > g.MaxSpreadRatio {
		return ErrSpreadTooWide
	}
	return nil
}
