// Package engine 纸面做市引擎：通过 exchange.Connector 拉取行情、挂撤单，
// 在多个场所之间做跨所 Delta 对冲。回放连接器由引擎逐步推进。
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/exchange"
	"perp-mm-lab/hedge"
	"perp-mm-lab/market"
	"perp-mm-lab/metrics"
	"perp-mm-lab/posttrade"
	"perp-mm-lab/risk"
	"perp-mm-lab/strategy/asmm"
)

var (
	ErrNoVenues       = errors.New("engine requires at least one venue")
	ErrAlreadyRunning = errors.New("engine already running")
)

// State 引擎状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Symbol       string        `yaml:"symbol"`
	Depth        int           `yaml:"depth"`
	TickInterval time.Duration `yaml:"tick_interval"` // 0 表示不等待，按回放速度运行
	Workers      int           `yaml:"workers"`
	Capital      float64       `yaml:"capital"`
	VolWindow    int           `yaml:"vol_window"`
	KyleWindow   int           `yaml:"kyle_window"`

	// VPIN 桶大小为 0 时关闭毒性过滤
	ToxicityBucketVolume float64 `yaml:"toxicity_bucket_volume"`
	ToxicityThreshold    float64 `yaml:"toxicity_threshold"`

	Strategy asmm.Config               `yaml:"strategy"`
	Hedge    hedge.Config              `yaml:"hedge"`
	Breaker  risk.CircuitBreakerConfig `yaml:"breaker"`
}

func DefaultConfig() Config {
	return Config{
		Symbol:            "BTCUSDT",
		Depth:             10,
		Workers:           4,
		Capital:           10000,
		VolWindow:         20,
		KyleWindow:        50,
		ToxicityThreshold: 0.7,
		Strategy:          asmm.DefaultConfig(),
		Hedge:             hedge.DefaultConfig(),
		Breaker:           risk.DefaultCircuitBreakerConfig(),
	}
}

// VenueConn 场所连接器，需能查询持仓与累计手续费。
type VenueConn interface {
	exchange.Connector
	Position(symbol string) (net, avgCost, realized float64)
	FeesPaid() float64
}

// Replayer 回放型连接器，由引擎在每个 tick 末尾推进。
type Replayer interface {
	Advance() bool
}

// Venue 一个场所。第一个场所负责报价，其余只用于对冲。
type Venue struct {
	Name     string
	Conn     VenueConn
	TakerFee float64
}

// Stats 运行统计
type Stats struct {
	StartTime    time.Time          `json:"start_time"`
	Ticks        int                `json:"ticks"`
	Quotes       int                `json:"quotes"`
	Orders       int                `json:"orders"`
	Rejected     int                `json:"rejected"`
	MakerFills   int                `json:"maker_fills"`
	TakerFills   int                `json:"taker_fills"`
	Hedges       int                `json:"hedges"`
	ToxicSkips   int                `json:"toxic_skips"`
	BreakerSkips int                `json:"breaker_skips"`
	Errors       int                `json:"errors"`
	LastFunding  float64            `json:"last_funding"`
	Inventory    map[string]float64 `json:"inventory"`
	Realized     float64            `json:"realized_pnl"`
	Unrealized   float64            `json:"unrealized_pnl"`
	Fees         float64            `json:"fees"`
	NetPnL       float64            `json:"net_pnl"`
	Markout      posttrade.Stats    `json:"markout"`
	Regime       string             `json:"regime"` // 最近一次判断的市场状态
	RegimeTicks  map[string]int     `json:"regime_ticks"`
}

// Engine 纸面做市引擎，同一时间只允许一个 Run。
type Engine struct {
	cfg     Config
	venues  []Venue
	async   *exchange.AsyncClient
	funding exchange.FundingSource
	alerts  risk.AlertClient
	logger  *zap.Logger

	mm       *asmm.MarketMaker
	hedger   *hedge.CrossVenueDeltaHedger
	breaker  *risk.CircuitBreaker
	notifier *risk.Notifier
	analyzer *posttrade.Analyzer
	cost     exchange.CostEstimator
	vol      *market.VolatilityCalculator
	kyle     *market.KyleLambdaEstimator
	vpin     *market.VPINCalculator
	regime   *market.RegimeDetector
	clock    *risk.SimClock

	mu       sync.RWMutex
	state    State
	stats    Stats
	prevBook market.BookSnapshot
	lastBid  float64
	lastAsk  float64
	lastMid  float64
	step     int
}

// Option 可选依赖
type Option func(*Engine)

// WithFunding 使用外部资金费率（如标记价格流）覆盖连接器返回值。
func WithFunding(src exchange.FundingSource) Option {
	return func(e *Engine) { e.funding = src }
}

func WithAlerts(a risk.AlertClient) Option {
	return func(e *Engine) { e.alerts = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 校验配置并创建引擎。
func New(cfg Config, venues []Venue, opts ...Option) (*Engine, error) {
	if len(venues) == 0 {
		return nil, ErrNoVenues
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("invalid config: empty symbol")
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.VolWindow <= 1 {
		cfg.VolWindow = 20
	}
	if cfg.KyleWindow <= 1 {
		cfg.KyleWindow = 50
	}

	e := &Engine{
		cfg:      cfg,
		venues:   venues,
		async:    exchange.NewAsyncClient(venues[0].Conn, cfg.Workers),
		logger:   zap.NewNop(),
		analyzer: posttrade.NewAnalyzer(1, 5),
		vol:      market.NewVolatilityCalculator(cfg.VolWindow),
		kyle:     market.NewKyleLambdaEstimator(cfg.KyleWindow),
		regime:   market.DefaultRegimeDetector(),
		clock:    risk.NewSimClock(time.Time{}),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	mm, err := asmm.NewMarketMaker(cfg.Strategy, e.logger)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e.mm = mm
	e.logger = e.logger.Named("engine")
	e.hedger = hedge.NewCrossVenueDeltaHedger(cfg.Hedge, e.clock, e.logger)
	e.breaker = risk.NewCircuitBreaker(cfg.Breaker, e.clock, e.logger)
	e.notifier = risk.NewNotifier(e.alerts, e.logger)
	e.breaker.SetNotifier(e.notifier)
	if cfg.ToxicityBucketVolume > 0 {
		e.vpin = market.NewVPINCalculator(cfg.ToxicityBucketVolume, 50, cfg.ToxicityThreshold)
	}
	return e, nil
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Stats 返回统计快照。
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.Inventory = make(map[string]float64, len(e.stats.Inventory))
	for k, v := range e.stats.Inventory {
		s.Inventory[k] = v
	}
	s.RegimeTicks = make(map[string]int, len(e.stats.RegimeTicks))
	for k, v := range e.stats.RegimeTicks {
		s.RegimeTicks[k] = v
	}
	return s
}

// Run 逐 tick 运行直到回放数据耗尽或 ctx 取消。退出前撤销报价场所的全部挂单。
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return Stats{}, ErrAlreadyRunning
	}
	e.state = StateRunning
	e.stats = Stats{StartTime: time.Now(), Inventory: make(map[string]float64), RegimeTicks: make(map[string]int)}
	e.mu.Unlock()

	e.logger.Info("engine starting",
		zap.String("symbol", e.cfg.Symbol),
		zap.Int("venues", len(e.venues)),
		zap.Duration("tick_interval", e.cfg.TickInterval))

	var pace <-chan time.Time
	if e.cfg.TickInterval > 0 {
		t := time.NewTicker(e.cfg.TickInterval)
		defer t.Stop()
		pace = t.C
	}

	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		e.onTick(ctx)
		if !e.advance(ctx) {
			break
		}
		if pace != nil {
			select {
			case <-ctx.Done():
			case <-pace:
			}
		}
	}

	e.cancelQuotes(context.WithoutCancel(ctx))
	e.settle()

	e.mu.Lock()
	e.state = StateStopped
	stats := e.stats
	e.mu.Unlock()

	e.logger.Info("engine stopped",
		zap.Int("ticks", stats.Ticks),
		zap.Int("maker_fills", stats.MakerFills),
		zap.Int("hedges", stats.Hedges),
		zap.Float64("net_pnl", stats.NetPnL))
	return e.Stats(), runErr
}

// onTick 拉行情 → 熔断/毒性检查 → 撤单重挂。
func (e *Engine) onTick(ctx context.Context) {
	e.bump(func(s *Stats) { s.Ticks++ })

	snap, err := e.async.Snapshot(ctx, e.cfg.Symbol, e.cfg.Depth)
	if err != nil {
		e.recordError("snapshot", err)
		return
	}
	e.clock.Set(snap.Book.Timestamp)
	mid := snap.Book.Mid()
	if mid <= 0 {
		mid = snap.Ticker.Mid()
	}
	if mid <= 0 {
		e.recordError("snapshot", fmt.Errorf("no mid price for %s", e.cfg.Symbol))
		return
	}
	e.lastMid = mid
	e.analyzer.OnMark(e.step, mid)

	funding, hasFunding := snap.Funding, snap.HasFunding
	if e.funding != nil {
		if r, ok := e.funding.FundingRate(e.cfg.Symbol); ok {
			funding, hasFunding = r, true
		}
	}
	if hasFunding {
		e.bump(func(s *Stats) { s.LastFunding = funding })
	}

	e.updateStrategy(snap, mid)
	e.breaker.RecordEquity(e.cfg.Capital + e.netPnL(mid))
	if err := e.breaker.Check(); err != nil {
		e.logger.Debug("quotes withheld", zap.Error(err))
		e.bump(func(s *Stats) { s.BreakerSkips++ })
		e.cancelQuotes(ctx)
		return
	}
	if e.vpin != nil && e.vpin.IsReady() && e.vpin.IsToxic() {
		e.bump(func(s *Stats) { s.ToxicSkips++ })
		e.cancelQuotes(ctx)
		return
	}
	e.requote(ctx)
}

func (e *Engine) updateStrategy(snap exchange.Snapshot, mid float64) {
	e.vol.AddPrice(mid)
	regime := e.regime.Update(mid)
	metrics.VolatilityRegime.Set(float64(regime))
	e.bump(func(s *Stats) {
		s.Regime = regime.String()
		s.RegimeTicks[s.Regime]++
	})
	signed := 0.0
	for _, t := range snap.Trades {
		signed += t.SignedAmount()
		if e.vpin != nil {
			e.vpin.AddTrade(t)
		}
	}
	e.kyle.Add(mid, signed)

	state := asmm.MarketState{
		MidPrice:           mid,
		Volatility:         e.vol.RealizedVol() * mid,
		Inventory:          e.mm.Inventory(),
		OrderFlowImbalance: snap.TradeFlow,
		KyleLambda:         e.kyle.Lambda(),
	}
	if len(e.prevBook.Bids) > 0 {
		state.OrderFlowImbalance = market.OrderFlowImbalance(e.prevBook, snap.Book)
	}
	if mp := snap.Book.Microprice(); mp > 0 {
		state.Microprice = &mp
	}
	e.prevBook = snap.Book
	e.mm.UpdateMarketData(state)
}

// requote 撤掉旧报价后按策略报价重新挂单。立即成交的部分按 taker 记。
func (e *Engine) requote(ctx context.Context) {
	e.cancelQuotes(ctx)
	quotes := e.mm.Quotes()
	if len(quotes) == 0 {
		return
	}
	e.bump(func(s *Stats) { s.Quotes++ })

	reqs := make([]exchange.OrderRequest, 0, len(quotes))
	for _, q := range quotes {
		side := exchange.Buy
		if q.Side == asmm.Ask {
			side = exchange.Sell
			e.lastAsk = q.Price
		} else {
			e.lastBid = q.Price
		}
		reqs = append(reqs, exchange.OrderRequest{
			Symbol: e.cfg.Symbol,
			Side:   side,
			Type:   exchange.Limit,
			Price:  q.Price,
			Qty:    q.Size,
		})
	}
	acks, errs := e.async.PlaceOrders(ctx, reqs)
	for i, err := range errs {
		if err != nil {
			e.onReject(reqs[i], err)
			continue
		}
		e.bump(func(s *Stats) { s.Orders++ })
		if acks[i].FilledQty > 0 {
			e.onFill(e.venues[0].Name, acks[i].ClientID, reqs[i].Side, acks[i].FilledQty, acks[i].AvgPrice, "taker")
		}
	}
}

func (e *Engine) onReject(req exchange.OrderRequest, err error) {
	e.bump(func(s *Stats) { s.Rejected++ })
	if isGuardRejection(err) {
		e.notifier.NotifyLimitExceeded(req.Symbol, err)
		return
	}
	e.logger.Warn("order failed",
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("qty", req.Qty),
		zap.Error(err))
}

func isGuardRejection(err error) bool {
	for _, target := range []error{
		risk.ErrSingleExceed, risk.ErrDailyExceed, risk.ErrNetExceed,
		risk.ErrSpreadTooWide, risk.ErrTooFrequent, risk.ErrPnLTooLow, risk.ErrPnLTooHigh,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (e *Engine) onFill(venue, id string, side exchange.Side, qty, price float64, liquidity string) {
	signed := qty
	if side == exchange.Sell {
		signed = -qty
	}
	if venue == e.venues[0].Name {
		e.mm.UpdateInventory(signed, price)
	}
	e.analyzer.OnFill(id, price, string(side), e.step)
	e.bump(func(s *Stats) {
		if liquidity == "maker" {
			s.MakerFills++
		} else {
			s.TakerFills++
		}
	})
}

func (e *Engine) cancelQuotes(ctx context.Context) {
	c, ok := e.venues[0].Conn.(exchange.Canceler)
	if !ok {
		return
	}
	if _, err := c.CancelAll(ctx, e.cfg.Symbol); err != nil {
		e.recordError("cancel", err)
	}
}

// advance 推进所有回放场所并收取报价场所的挂单成交；任一场所数据耗尽即返回 false。
// 连接器不提供成交回报时，以净仓变化推断成交。
func (e *Engine) advance(ctx context.Context) bool {
	quoting := e.venues[0]
	before, _, _ := quoting.Conn.Position(e.cfg.Symbol)
	more := true
	for _, v := range e.venues {
		r, ok := v.Conn.(Replayer)
		if !ok {
			continue
		}
		if !r.Advance() {
			more = false
		}
	}
	e.step++

	if feed, ok := quoting.Conn.(exchange.FillFeed); ok {
		for _, f := range feed.DrainFills() {
			if f.Symbol == e.cfg.Symbol {
				e.onFill(quoting.Name, f.ClientID, f.Side, f.FilledQty, f.AvgPrice, "maker")
			}
		}
	} else {
		after, _, _ := quoting.Conn.Position(e.cfg.Symbol)
		if d := after - before; math.Abs(d) > 1e-12 {
			side, price := exchange.Buy, e.lastBid
			if d < 0 {
				side, price = exchange.Sell, e.lastAsk
			}
			e.onFill(quoting.Name, fmt.Sprintf("maker-%d", e.step), side, math.Abs(d), price, "maker")
		}
	}
	if more {
		e.hedge(ctx)
	}
	return more
}

// hedge 汇总各场所库存，超阈值时选成本最低的场所吃单对冲。
func (e *Engine) hedge(ctx context.Context) {
	for _, v := range e.venues {
		net, _, _ := v.Conn.Position(e.cfg.Symbol)
		e.hedger.UpdateVenueInventory(v.Name, net)
	}
	if !e.hedger.ShouldHedge() {
		return
	}
	sug, ok := e.hedger.SuggestVenueHedge()
	if !ok {
		return
	}
	side := exchange.Buy
	if sug.Side == hedge.SideSell {
		side = exchange.Sell
	}

	books := make([]exchange.Venue, 0, len(e.venues))
	for _, v := range e.venues {
		b, err := v.Conn.GetOrderbook(ctx, e.cfg.Symbol, e.cfg.Depth)
		if err != nil {
			e.recordError("hedge_book", err)
			continue
		}
		books = append(books, exchange.Venue{Name: v.Name, Book: b, TakerFee: v.TakerFee})
	}
	target := sug.Venue
	if best, ok := e.cost.Best(side, sug.Size, books); ok {
		target = best.Venue
	}
	v, ok := e.venue(target)
	if !ok {
		return
	}

	ack, err := v.Conn.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: e.cfg.Symbol,
		Side:   side,
		Type:   exchange.Market,
		Qty:    sug.Size,
	})
	if err != nil {
		e.onReject(exchange.OrderRequest{Symbol: e.cfg.Symbol, Side: side, Qty: sug.Size}, err)
		return
	}
	if ack.FilledQty <= 0 {
		return
	}
	e.hedger.RecordVenueHedge(v.Name, ack.FilledQty, sug.Side, ack.AvgPrice, ack.Fee, 0)
	e.onFill(v.Name, ack.ClientID, side, ack.FilledQty, ack.AvgPrice, "taker")
	e.bump(func(s *Stats) { s.Hedges++ })
	metrics.Hedges.WithLabelValues("cross_venue").Inc()
	e.logger.Info("cross-venue hedge",
		zap.String("venue", v.Name),
		zap.String("side", string(side)),
		zap.Float64("size", ack.FilledQty),
		zap.Float64("price", ack.AvgPrice),
		zap.Float64("total_inventory", e.hedger.TotalInventory()))
}

func (e *Engine) venue(name string) (Venue, bool) {
	for _, v := range e.venues {
		if v.Name == name {
			return v, true
		}
	}
	return Venue{}, false
}

// netPnL 已实现 + 按 mid 估值的未实现 − 手续费，跨场所加总。
func (e *Engine) netPnL(mid float64) float64 {
	realized, unrealized, fees := e.pnlParts(mid)
	return realized + unrealized - fees
}

func (e *Engine) pnlParts(mid float64) (realized, unrealized, fees float64) {
	for _, v := range e.venues {
		net, avg, r := v.Conn.Position(e.cfg.Symbol)
		realized += r
		if net != 0 && mid > 0 {
			unrealized += (mid - avg) * net
		}
		fees += v.Conn.FeesPaid()
	}
	return
}

func (e *Engine) settle() {
	realized, unrealized, fees := e.pnlParts(e.lastMid)
	markout := e.analyzer.Stats()
	e.bump(func(s *Stats) {
		for _, v := range e.venues {
			net, _, _ := v.Conn.Position(e.cfg.Symbol)
			s.Inventory[v.Name] = net
		}
		s.Realized = realized
		s.Unrealized = unrealized
		s.Fees = fees
		s.NetPnL = realized + unrealized - fees
		s.Markout = markout
	})
}

func (e *Engine) recordError(op string, err error) {
	e.bump(func(s *Stats) { s.Errors++ })
	e.logger.Error("tick failed", zap.String("op", op), zap.Error(err))
	if e.alerts != nil && !errors.Is(err, context.Canceled) {
		e.alerts.Send("Engine", fmt.Sprintf("%s %s: %v", e.cfg.Symbol, op, err))
	}
}

func (e *Engine) bump(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}
