package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/inventory"
	"perp-mm-lab/market"
	"perp-mm-lab/metrics"
	"perp-mm-lab/risk"
)

// PaperConfig 纸面连接器配置。
type PaperConfig struct {
	HalfSpreadBps float64                      `yaml:"half_spread_bps"` // 合成盘口半价差
	Depth         int                          `yaml:"depth"`
	LevelStepBps  float64                      `yaml:"level_step_bps"`
	DepthFraction float64                      `yaml:"depth_fraction"` // 每档数量占K线成交量比例
	TradesPerBar  int                          `yaml:"trades_per_bar"`
	FundingRate   float64                      `yaml:"funding_rate"`
	MakerFee      float64                      `yaml:"maker_fee"`
	TakerFee      float64                      `yaml:"taker_fee"`
	Constraints   map[string]SymbolConstraints `yaml:"constraints"`
	Guards        risk.GuardConfig             `yaml:"guards"`
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		HalfSpreadBps: 2,
		Depth:         10,
		LevelStepBps:  1,
		DepthFraction: 0.01,
		TradesPerBar:  4,
		FundingRate:   0.0001,
		MakerFee:      0.0002,
		TakerFee:      0.0006,
	}
}

type restingOrder struct {
	ack OrderAck
	req OrderRequest
}

// PaperConnector 在K线序列上回放的 Connector：按游标合成 ticker/盘口/成交，
// 市价单按盘口深度成交，限价单在之后的K线触及时成交。所有交易对共享游标。
type PaperConnector struct {
	mu      sync.Mutex
	cfg     PaperConfig
	feeds   map[string]market.Series
	cursor  int
	ids     IDGenerator
	dedupe  *CollisionDetector
	limiter *RateLimiter
	guards  risk.MultiGuard
	clock   *risk.SimClock
	logger  *zap.Logger

	positions map[string]*inventory.Tracker
	resting   map[string][]restingOrder
	books     map[string]*market.OrderBook
	bookAt    map[string]time.Time
	filled    []OrderAck // 挂单成交回报，DrainFills 取走
	fees      float64
	seq       int
}

// NewPaperConnector limiter 可为 nil。
func NewPaperConnector(cfg PaperConfig, feeds map[string]market.Series, ids IDGenerator, limiter *RateLimiter, logger *zap.Logger) (*PaperConnector, error) {
	if len(feeds) == 0 {
		return nil, ErrNoMarketData
	}
	for sym, s := range feeds {
		if err := market.ValidateSeries(s); err != nil {
			return nil, fmt.Errorf("paper feed %s: %w", sym, err)
		}
	}
	if ids == nil {
		ids = UUIDGenerator{Prefix: "paper-"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	c := &PaperConnector{
		cfg:       cfg,
		feeds:     feeds,
		ids:       ids,
		dedupe:    NewCollisionDetector(100000),
		limiter:   limiter,
		logger:    logger.Named("paper"),
		positions: make(map[string]*inventory.Tracker),
		resting:   make(map[string][]restingOrder),
		books:     make(map[string]*market.OrderBook),
		bookAt:    make(map[string]time.Time),
	}
	c.clock = risk.NewSimClock(c.firstTimestamp())
	c.guards = risk.BuildGuards(cfg.Guards, lockedView{c}, lockedView{c}, lockedView{c}, c.clock)
	return c, nil
}

func (c *PaperConnector) firstTimestamp() time.Time {
	var t time.Time
	for _, s := range c.feeds {
		if len(s) > 0 && (t.IsZero() || s[0].Timestamp.Before(t)) {
			t = s[0].Timestamp
		}
	}
	return t
}

// Advance 游标前进一根K线并撮合挂单；数据耗尽返回 false。
func (c *PaperConnector) Advance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cursor + 1
	more := false
	for _, s := range c.feeds {
		if next < len(s) {
			more = true
		}
	}
	if !more {
		return false
	}
	c.cursor = next
	for sym := range c.resting {
		if bar, ok := c.barLocked(sym); ok {
			c.clock.Set(bar.Timestamp)
			c.matchRestingLocked(sym, bar)
		}
	}
	return true
}

func (c *PaperConnector) barLocked(symbol string) (market.Bar, bool) {
	s, ok := c.feeds[symbol]
	if !ok || c.cursor >= len(s) {
		return market.Bar{}, false
	}
	return s[c.cursor], true
}

func (c *PaperConnector) bar(symbol string) (market.Bar, error) {
	if _, ok := c.feeds[symbol]; !ok {
		return market.Bar{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	b, ok := c.barLocked(symbol)
	if !ok {
		return market.Bar{}, fmt.Errorf("%w: %s", ErrNoMarketData, symbol)
	}
	return b, nil
}

func (c *PaperConnector) GetTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return market.Ticker{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bar(symbol)
	if err != nil {
		return market.Ticker{}, err
	}
	half := b.Close * c.cfg.HalfSpreadBps / 10000
	return market.Ticker{
		Last:      b.Close,
		Bid:       b.Close - half,
		Ask:       b.Close + half,
		Volume:    b.Volume,
		Timestamp: b.Timestamp,
	}, nil
}

func (c *PaperConnector) GetOrderbook(ctx context.Context, symbol string, depth int) (market.BookSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.BookSnapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bar(symbol)
	if err != nil {
		return market.BookSnapshot{}, err
	}
	return c.bookLocked(symbol, b, depth), nil
}

// bookLocked 每个交易对维护一份增量盘口。K线切换时把上一根的档位置零、写入以收盘价为中心的
// 新档位（越远数量越大），与处理实盘 depth 增量的方式相同。
func (c *PaperConnector) bookLocked(symbol string, b market.Bar, depth int) market.BookSnapshot {
	if depth <= 0 || depth > c.cfg.Depth {
		depth = c.cfg.Depth
	}
	ob, ok := c.books[symbol]
	if !ok {
		ob = market.NewOrderBook()
		c.books[symbol] = ob
	}
	if at, ok := c.bookAt[symbol]; !ok || !at.Equal(b.Timestamp) {
		bids := make(map[float64]float64)
		asks := make(map[float64]float64)
		for _, p := range ob.BidPrices() {
			bids[p] = 0
		}
		for _, p := range ob.AskPrices() {
			asks[p] = 0
		}
		half := b.Close * c.cfg.HalfSpreadBps / 10000
		step := b.Close * c.cfg.LevelStepBps / 10000
		base := b.Volume * c.cfg.DepthFraction
		if base <= 0 {
			base = 1
		}
		for i := 0; i < c.cfg.Depth; i++ {
			qty := base * (1 + 0.5*float64(i))
			bids[b.Close-half-float64(i)*step] = qty
			asks[b.Close+half+float64(i)*step] = qty
		}
		ob.ApplyDelta(bids, asks)
		c.bookAt[symbol] = b.Timestamp
	}
	return ob.Snapshot(depth, b.Timestamp)
}

// lockedView 给风控使用的盘口/仓位视图，只在 PlaceOrder 持锁期间被调用。
type lockedView struct{ c *PaperConnector }

func (v lockedView) Book(symbol string) (market.BookSnapshot, bool) {
	b, ok := v.c.barLocked(symbol)
	if !ok {
		return market.BookSnapshot{}, false
	}
	return v.c.bookLocked(symbol, b, v.c.cfg.Depth), true
}

func (v lockedView) NetExposure(symbol string) float64 {
	return v.c.netLocked(symbol)
}

// UnrealizedPnL 以当前 bar 收盘价估值。
func (v lockedView) UnrealizedPnL(symbol string) float64 {
	t, ok := v.c.positions[symbol]
	if !ok {
		return 0
	}
	b, ok := v.c.barLocked(symbol)
	if !ok {
		return 0
	}
	_, pnl := t.Valuation(b.Close)
	return pnl
}

func (c *PaperConnector) netLocked(symbol string) float64 {
	if t, ok := c.positions[symbol]; ok {
		return t.NetExposure()
	}
	return 0
}

func (c *PaperConnector) GetFundingRate(ctx context.Context, symbol string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.bar(symbol); err != nil {
		return 0, false, err
	}
	return c.cfg.FundingRate, true, nil
}

// GetRecentTrades 由K线拆出若干笔成交：价格沿 O→L/H→C 路径，方向随价格变动。
func (c *PaperConnector) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bar(symbol)
	if err != nil {
		return nil, err
	}
	n := c.cfg.TradesPerBar
	if n <= 0 {
		n = 4
	}
	if limit > 0 && limit < n {
		n = limit
	}
	path := []float64{b.Open, b.Low, b.High, b.Close}
	if b.Close < b.Open {
		path = []float64{b.Open, b.High, b.Low, b.Close}
	}
	out := make([]market.Trade, n)
	prev := b.Open
	for i := 0; i < n; i++ {
		px := path[i*len(path)/n]
		side := "buy"
		if px < prev {
			side = "sell"
		}
		out[i] = market.Trade{
			Price:     px,
			Amount:    b.Volume / float64(n),
			Side:      side,
			Timestamp: b.Timestamp.Add(time.Duration(i) * time.Second),
		}
		prev = px
	}
	return out, nil
}

// PlaceOrder 依次：限流 → 精度/数量校验 → 风控 → 订单号去重 → 成交或挂单。
func (c *PaperConnector) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return OrderAck{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.bar(req.Symbol)
	if err != nil {
		return OrderAck{}, err
	}
	c.clock.Set(b.Timestamp)
	if req.Side != Buy && req.Side != Sell {
		return OrderAck{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}
	if req.Type == Limit && req.Price <= 0 {
		return OrderAck{}, fmt.Errorf("%w: limit order without price", ErrInvalidOrder)
	}
	if cons, ok := c.cfg.Constraints[req.Symbol]; ok {
		req.Price, req.Qty = cons.Round(req.Price, req.Qty)
		if err := cons.Validate(req.Price, req.Qty); err != nil {
			return c.reject(req, err)
		}
	} else if req.Qty <= 0 {
		return c.reject(req, fmt.Errorf("%w: qty %v", ErrInvalidOrder, req.Qty))
	}

	delta := req.Qty
	if req.Side == Sell {
		delta = -delta
	}
	if req.ReduceOnly {
		net := c.netLocked(req.Symbol)
		if net == 0 || math.Signbit(net) == math.Signbit(delta) || math.Abs(delta) > math.Abs(net) {
			return c.reject(req, fmt.Errorf("%w: reduce-only would increase position", ErrInvalidOrder))
		}
	}
	if err := c.guards.PreOrder(req.Symbol, delta); err != nil {
		return c.reject(req, err)
	}

	if req.ClientID == "" {
		req.ClientID = c.ids.NewID()
	}
	if err := c.dedupe.Register(req.ClientID); err != nil {
		return OrderAck{}, err
	}
	c.seq++
	ack := OrderAck{
		OrderID:   strconv.Itoa(c.seq),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Status:    StatusNew,
		Price:     req.Price,
		Qty:       req.Qty,
		Timestamp: b.Timestamp,
	}

	book := c.bookLocked(req.Symbol, b, c.cfg.Depth)
	bid, ask := book.Best()
	switch {
	case req.Type == Market,
		req.Side == Buy && req.Price >= ask,
		req.Side == Sell && req.Price <= bid:
		side := market.DepthSideAsk
		if req.Side == Sell {
			side = market.DepthSideBid
		}
		vwap, filled := book.EstimateFillPrice(side, req.Qty)
		if req.Type == Limit {
			// 限价单不超过限价成交
			if req.Side == Buy {
				vwap = math.Min(vwap, req.Price)
			} else {
				vwap = math.Max(vwap, req.Price)
			}
		}
		c.fillLocked(&ack, req, filled, vwap, c.cfg.TakerFee, "taker")
		if filled < req.Qty {
			ack.Status = StatusPartial
		}
	default:
		c.resting[req.Symbol] = append(c.resting[req.Symbol], restingOrder{ack: ack, req: req})
	}
	c.logger.Debug("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("client_id", ack.ClientID),
		zap.String("status", string(ack.Status)),
		zap.Float64("filled", ack.FilledQty))
	return ack, nil
}

func (c *PaperConnector) reject(req OrderRequest, err error) (OrderAck, error) {
	c.logger.Warn("order rejected",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Qty),
		zap.Error(err))
	metrics.RejectedEntries.WithLabelValues("paper_order").Inc()
	return OrderAck{
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Status:   StatusRejected,
		Price:    req.Price,
		Qty:      req.Qty,
	}, err
}

func (c *PaperConnector) fillLocked(ack *OrderAck, req OrderRequest, qty, price, feeRate float64, liquidity string) {
	if qty <= 0 {
		return
	}
	t, ok := c.positions[req.Symbol]
	if !ok {
		t = &inventory.Tracker{}
		c.positions[req.Symbol] = t
	}
	delta := qty
	if req.Side == Sell {
		delta = -qty
	}
	t.Update(delta, price)
	fee := qty * price * feeRate
	c.fees += fee
	ack.AvgPrice = (ack.AvgPrice*ack.FilledQty + price*qty) / (ack.FilledQty + qty)
	ack.FilledQty += qty
	ack.Fee += fee
	ack.Status = StatusFilled
	metrics.IncrementFills(string(req.Side), liquidity)
}

// matchRestingLocked 当前K线触及限价即按限价全部成交（maker）。
func (c *PaperConnector) matchRestingLocked(symbol string, b market.Bar) {
	var keep []restingOrder
	for _, o := range c.resting[symbol] {
		touched := (o.req.Side == Buy && b.Low <= o.req.Price) || (o.req.Side == Sell && b.High >= o.req.Price)
		if !touched {
			keep = append(keep, o)
			continue
		}
		ack := o.ack
		ack.Timestamp = b.Timestamp
		c.fillLocked(&ack, o.req, o.req.Qty, o.req.Price, c.cfg.MakerFee, "maker")
		c.filled = append(c.filled, ack)
		c.logger.Debug("resting order filled", zap.String("client_id", ack.ClientID), zap.Float64("price", o.req.Price))
	}
	c.resting[symbol] = keep
}

// Position 返回交易对的净仓位、均价与已实现盈亏。
func (c *PaperConnector) Position(symbol string) (net, avgCost, realized float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.positions[symbol]; ok {
		return t.NetExposure(), t.AvgCost(), t.Realized()
	}
	return 0, 0, 0
}

// CancelAll 撤销交易对的全部挂单，返回撤单数量。
func (c *PaperConnector) CancelAll(ctx context.Context, symbol string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.resting[symbol])
	delete(c.resting, symbol)
	return n, nil
}

// DrainFills 返回自上次调用以来成交的挂单。
func (c *PaperConnector) DrainFills() []OrderAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.filled
	c.filled = nil
	return out
}

// OpenOrders 当前挂单数量。
func (c *PaperConnector) OpenOrders(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resting[symbol])
}

func (c *PaperConnector) FeesPaid() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fees
}
