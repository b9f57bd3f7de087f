package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"perp-mm-lab/market"
)

// AsyncClient 把互不相关的请求分发到有界的 goroutine 池；任务之间不共享可变状态。
type AsyncClient struct {
	conn    Connector
	workers int

	// MaxTickerAge >0 时拒绝过期 ticker
	MaxTickerAge time.Duration
	// TradeLimit Snapshot 拉取的最近成交条数
	TradeLimit int
	now        func() time.Time
}

func NewAsyncClient(conn Connector, workers int) *AsyncClient {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncClient{conn: conn, workers: workers, TradeLimit: 50, now: time.Now}
}

// fanOut 并发执行 fn(0..n-1)，最多 workers 个同时运行，返回每个任务的错误。
func fanOut(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case sem <- struct{}{}:
			}
		}
		if err := ctx.Err(); err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, i)
		}(i)
	}
	wg.Wait()
	return errs
}

// Tickers 并发获取多个交易对的 ticker；失败的交易对不出现在结果中，错误合并返回。
func (a *AsyncClient) Tickers(ctx context.Context, symbols []string) (map[string]market.Ticker, error) {
	out := make([]market.Ticker, len(symbols))
	errs := fanOut(ctx, len(symbols), a.workers, func(ctx context.Context, i int) error {
		t, err := a.ticker(ctx, symbols[i])
		if err != nil {
			return fmt.Errorf("%s: %w", symbols[i], err)
		}
		out[i] = t
		return nil
	})
	res := make(map[string]market.Ticker, len(symbols))
	for i, s := range symbols {
		if errs[i] == nil {
			res[s] = out[i]
		}
	}
	return res, errors.Join(errs...)
}

func (a *AsyncClient) ticker(ctx context.Context, symbol string) (market.Ticker, error) {
	t, err := a.conn.GetTicker(ctx, symbol)
	if err != nil {
		return market.Ticker{}, err
	}
	if err := market.ValidateTicker(t, a.now(), a.MaxTickerAge); err != nil {
		return market.Ticker{}, err
	}
	return t, nil
}

// Snapshot 单个交易对的盘口、ticker、资金费率与最近成交。
type Snapshot struct {
	Symbol     string
	Ticker     market.Ticker
	Book       market.BookSnapshot
	Funding    float64
	HasFunding bool
	Trades     []market.Trade
	TradeFlow  float64 // 主动买卖净额占比 [-1,1]
}

// Snapshot 并发拉取四个接口，任一失败即返回错误。
func (a *AsyncClient) Snapshot(ctx context.Context, symbol string, depth int) (Snapshot, error) {
	snap := Snapshot{Symbol: symbol}
	calls := []func(context.Context) error{
		func(ctx context.Context) (err error) {
			snap.Ticker, err = a.ticker(ctx, symbol)
			return err
		},
		func(ctx context.Context) (err error) {
			snap.Book, err = a.conn.GetOrderbook(ctx, symbol, depth)
			return err
		},
		func(ctx context.Context) (err error) {
			snap.Funding, snap.HasFunding, err = a.conn.GetFundingRate(ctx, symbol)
			return err
		},
		func(ctx context.Context) (err error) {
			snap.Trades, err = a.conn.GetRecentTrades(ctx, symbol, a.TradeLimit)
			return err
		},
	}
	errs := fanOut(ctx, len(calls), a.workers, func(ctx context.Context, i int) error {
		return calls[i](ctx)
	})
	if err := errors.Join(errs...); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	snap.TradeFlow = market.TradeFlowImbalance(snap.Trades)
	return snap, nil
}

// PlaceOrders 并发下单，回执与错误按请求顺序返回。
func (a *AsyncClient) PlaceOrders(ctx context.Context, reqs []OrderRequest) ([]OrderAck, []error) {
	acks := make([]OrderAck, len(reqs))
	errs := fanOut(ctx, len(reqs), a.workers, func(ctx context.Context, i int) error {
		ack, err := a.conn.PlaceOrder(ctx, reqs[i])
		acks[i] = ack
		return err
	})
	return acks, errs
}
