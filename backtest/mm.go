package backtest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/hedge"
	"perp-mm-lab/market"
	"perp-mm-lab/metrics"
	"perp-mm-lab/posttrade"
	"perp-mm-lab/risk"
	"perp-mm-lab/sim"
	"perp-mm-lab/strategy/asmm"
)

// ErrEngineUsed 做市回测不可重入，两次运行之间必须 Reset。
var ErrEngineUsed = errors.New("market-making backtest already ran; call Reset")

// MMConfig 做市回测配置。
type MMConfig struct {
	InitialCapital   float64 `yaml:"initial_capital"`
	MakerFee         float64 `yaml:"maker_fee"`
	TakerFee         float64 `yaml:"taker_fee"`
	FundingRate      float64 `yaml:"funding_rate"`
	FundingInterval  int     `yaml:"funding_interval"` // K线根数
	MaxDwellPeriods  int     `yaml:"max_dwell_periods"`
	OrderSize        float64 `yaml:"order_size"` // 0 表示使用策略配置
	HedgeEnabled     bool    `yaml:"hedge_enabled"`
	HedgeSlippageBps float64 `yaml:"hedge_slippage_bps"`
	Seed             int64   `yaml:"seed"`

	VolWindow      int `yaml:"vol_window"`
	ShortVolWindow int `yaml:"short_vol_window"`
	KyleWindow     int `yaml:"kyle_window"`

	// 故障注入与延迟
	OrderRejectProb float64 `yaml:"order_reject_prob"`
	DataGapProb     float64 `yaml:"data_gap_prob"`
	StaleQuoteProb  float64 `yaml:"stale_quote_prob"`
	LatencyMinMs    float64 `yaml:"latency_min_ms"`
	LatencyMaxMs    float64 `yaml:"latency_max_ms"`

	// VPIN 毒性过滤，桶大小为 0 时关闭
	ToxicityBucketVolume float64 `yaml:"toxicity_bucket_volume"`
	ToxicityThreshold    float64 `yaml:"toxicity_threshold"`

	DrawdownBands     []float64 `yaml:"drawdown_bands"`
	DrawdownFractions []float64 `yaml:"drawdown_fractions"`

	BarInterval time.Duration `yaml:"bar_interval"`
	Strategy    asmm.Config   `yaml:"strategy"`
	Hedge       hedge.Config  `yaml:"hedge"`
}

func DefaultMMConfig() MMConfig {
	return MMConfig{
		InitialCapital:    10000,
		MakerFee:          0.0002,
		TakerFee:          0.0006,
		FundingRate:       0.0001,
		FundingInterval:   24,
		MaxDwellPeriods:   sim.MaxDwellPeriods,
		HedgeEnabled:      true,
		HedgeSlippageBps:  5,
		Seed:              42,
		VolWindow:         24,
		ShortVolWindow:    6,
		KyleWindow:        50,
		ToxicityThreshold: 0.7,
		DrawdownBands:     []float64{5, 10, 15},
		DrawdownFractions: []float64{0.25, 0.5, 0.75},
		BarInterval:       time.Hour,
		Strategy:          asmm.DefaultConfig(),
		Hedge:             hedge.DefaultConfig(),
	}
}

type restingQuote struct {
	id      string
	side    sim.Side
	price   float64
	size    float64
	periods int
}

// MarketMakingBacktest 用 A-S 策略在K线上回放做市：合成盘口撮合、maker 手续费、
// 定期资金费、可选对冲与回撤减仓。非并发安全，不可重入。
type MarketMakingBacktest struct {
	cfg    MMConfig
	logger *zap.Logger

	strategy *asmm.MarketMaker
	hedger   *hedge.DeltaHedger
	clock    *risk.SimClock
	drawdown *risk.DrawdownManager
	analyzer *posttrade.Analyzer

	rng      *rand.Rand
	fills    *sim.FillSimulator
	latency  *sim.LatencyModel
	faults   *sim.FaultInjector
	acct     *sim.Account
	vol      *market.VolatilityCalculator
	shortVol *market.VolatilityCalculator
	kyle     *market.KyleLambdaEstimator
	vpin     *market.VPINCalculator

	ran     bool
	quotes  map[sim.Side]*restingQuote
	nextID  int
	trades  []ClosedTrade
	equity  []EquityPoint
	peak    float64
	invSum  float64
	invMin  float64
	invMax  float64
	invN    int
	funding float64
	slip    float64

	makerFills, takerFills, hedges int
	rejected, skipped, toxic       int
	exhausted                      bool
}

// NewMarketMakingBacktest 校验策略配置并构造引擎；logger 为 nil 时使用 Nop。
func NewMarketMakingBacktest(cfg MMConfig, logger *zap.Logger) (*MarketMakingBacktest, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("mm backtest: initial capital must be positive, got %v", cfg.InitialCapital)
	}
	if cfg.OrderSize > 0 {
		cfg.Strategy.OrderSize = cfg.OrderSize
	}
	if cfg.MaxDwellPeriods <= 0 {
		cfg.MaxDwellPeriods = sim.MaxDwellPeriods
	}
	if cfg.VolWindow < 2 {
		cfg.VolWindow = 24
	}
	if cfg.ShortVolWindow < 2 {
		cfg.ShortVolWindow = 6
	}
	if cfg.KyleWindow < 3 {
		cfg.KyleWindow = 50
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	strat, err := asmm.NewMarketMaker(cfg.Strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("mm backtest: %w", err)
	}
	b := &MarketMakingBacktest{
		cfg:      cfg,
		logger:   logger.Named("mm_backtest"),
		strategy: strat,
	}
	b.Reset()
	return b, nil
}

func (b *MarketMakingBacktest) Config() MMConfig { return b.cfg }

// Reset 重建随机源与全部状态；同一种子的两次运行结果一致。
func (b *MarketMakingBacktest) Reset() {
	b.rng = rand.New(rand.NewSource(b.cfg.Seed))
	b.fills = sim.NewFillSimulator(b.rng)
	b.latency = sim.NewLatencyModel(b.cfg.LatencyMinMs, b.cfg.LatencyMaxMs, b.rng)
	b.faults = sim.NewFaultInjector(b.cfg.OrderRejectProb, b.cfg.DataGapProb, b.cfg.StaleQuoteProb, b.rng)
	b.acct = sim.NewAccount(b.cfg.InitialCapital)
	b.vol = market.NewVolatilityCalculator(b.cfg.VolWindow)
	b.shortVol = market.NewVolatilityCalculator(b.cfg.ShortVolWindow)
	b.kyle = market.NewKyleLambdaEstimator(b.cfg.KyleWindow)
	b.vpin = nil
	if b.cfg.ToxicityBucketVolume > 0 {
		b.vpin = market.NewVPINCalculator(b.cfg.ToxicityBucketVolume, 50, b.cfg.ToxicityThreshold)
	}
	b.clock = risk.NewSimClock(time.Time{})
	b.hedger = hedge.NewDeltaHedger(b.cfg.Hedge, b.clock, b.logger)
	b.drawdown = risk.NewDrawdownManager(b.cfg.DrawdownBands, b.cfg.DrawdownFractions, 4*b.cfg.BarInterval, b.clock)
	b.analyzer = posttrade.NewAnalyzer(1, 5)
	b.strategy.Reset()

	b.ran = false
	b.quotes = make(map[sim.Side]*restingQuote, 2)
	b.nextID = 0
	b.trades = nil
	b.equity = nil
	b.peak = b.cfg.InitialCapital
	b.invSum, b.invMin, b.invMax, b.invN = 0, 0, 0, 0
	b.funding = 0
	b.slip = 0
	b.makerFills, b.takerFills, b.hedges = 0, 0, 0
	b.rejected, b.skipped, b.toxic = 0, 0, 0
	b.exhausted = false
}

// Run 逐根回放K线。每根：抽样故障 → 撮合上一根留下的挂单 → 资金费 → 更新策略行情 →
// 对冲 → 回撤减仓 → 撤单重挂 → 记录权益与 markout。
func (b *MarketMakingBacktest) Run(bars market.Series) (*MMResult, error) {
	if b.ran {
		return nil, ErrEngineUsed
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	b.ran = true

	for i, bar := range bars {
		b.clock.Set(bar.Timestamp)
		f := b.faults.Draw()
		if f.DataGap {
			b.skipped++
			continue
		}

		b.resolveFills(i, bar)

		if b.cfg.FundingInterval > 0 && i > 0 && i%b.cfg.FundingInterval == 0 {
			b.payFunding(bar.Close)
		}

		b.updateStrategy(bar)

		if b.cfg.HedgeEnabled {
			b.hedgeIfNeeded(i, bar)
		}
		b.deRisk(i, bar)
		b.requote(f, bar)

		eq := b.recordBar(i, bar)
		if eq <= 0 {
			b.exhausted = true
			b.logger.Warn("capital exhausted, stopping",
				zap.Time("bar", bar.Timestamp),
				zap.Float64("equity", eq))
			break
		}
	}

	metrics.BacktestRuns.WithLabelValues("market_making").Inc()
	return b.results(bars[len(bars)-1].Close), nil
}

// resolveFills 用收盘价两侧各半个波动率价差构造合成盘口。挂单价位没有落在
// K线区间内视为未触及，直接继续排队；触及后按到合成最优价的距离抽样。
func (b *MarketMakingBacktest) resolveFills(i int, bar market.Bar) {
	for _, side := range []sim.Side{sim.Buy, sim.Sell} {
		q, ok := b.quotes[side]
		if !ok {
			continue
		}
		if !sim.Touched(q.price, side, bar.Low, bar.High) {
			q.periods++
			continue
		}
		best := b.syntheticBest(bar, side)
		periods := q.periods
		if periods > b.cfg.MaxDwellPeriods {
			periods = b.cfg.MaxDwellPeriods
		}
		filled, _ := b.fills.TryFill(q.price, side, best, periods)
		if !filled {
			q.periods++
			continue
		}
		delete(b.quotes, side)
		if _, err := b.fill(bar, side, q.size, q.price, b.cfg.MakerFee, ExitMakerFill); err != nil {
			b.logger.Debug("maker fill rejected", zap.Error(err))
			continue
		}
		b.makerFills++
		b.analyzer.OnFill(q.id, q.price, string(side), i)
		metrics.IncrementFills(string(side), "maker")
	}
}

// syntheticBest 合成盘口同侧最优价：close ∓ σ·close/2，夹在K线高低价之间。
func (b *MarketMakingBacktest) syntheticBest(bar market.Bar, side sim.Side) float64 {
	half := b.vol.RealizedVol() * bar.Close / 2
	if side == sim.Buy {
		return math.Max(bar.Low, bar.Close-half)
	}
	return math.Min(bar.High, bar.Close+half)
}

// fill 记账一笔成交，并把新产生的平仓记录转成 ClosedTrade。
func (b *MarketMakingBacktest) fill(bar market.Bar, side sim.Side, qty, price, feeRate float64, reason string) (sim.FillResult, error) {
	tracker := b.acct.Tracker()
	before := len(tracker.RoundTrips())
	res, err := sim.ApplyFill(b.acct, side, qty, price, feeRate)
	if err != nil {
		return res, err
	}
	signed := qty
	if side == sim.Sell {
		signed = -qty
	}
	b.strategy.UpdateInventory(signed, price)

	trips := tracker.RoundTrips()
	for _, rt := range trips[before:] {
		closedSide := Long
		if !rt.Long {
			closedSide = Short
		}
		entryFee := rt.Entry * rt.Qty * b.cfg.MakerFee
		exitFee := rt.Exit * rt.Qty * feeRate
		net := rt.Realized - entryFee - exitFee
		pct := 0.0
		if notional := rt.Entry * rt.Qty; notional > 0 {
			pct = net / notional * 100
		}
		b.trades = append(b.trades, ClosedTrade{
			Side:        closedSide,
			EntryPrice:  rt.Entry,
			ExitPrice:   rt.Exit,
			Amount:      rt.Qty,
			Leverage:    1,
			GrossPnL:    rt.Realized,
			TradingFees: entryFee + exitFee,
			NetPnL:      net,
			PnLPct:      pct,
			ExitReason:  reason,
			ExitTime:    bar.Timestamp,
		})
		metrics.ClosedTrades.WithLabelValues(reason).Inc()
	}
	return res, nil
}

// payFunding 多头在费率为正时支付：payment = inventory × mark × rate。
func (b *MarketMakingBacktest) payFunding(mark float64) {
	inv := b.acct.Inventory()
	if inv == 0 || b.cfg.FundingRate == 0 {
		return
	}
	payment := inv * mark * b.cfg.FundingRate
	b.acct.Pay(payment)
	b.funding += payment
	metrics.FundingPayments.Inc()
}

func (b *MarketMakingBacktest) updateStrategy(bar market.Bar) {
	mid := bar.Close
	b.vol.AddPrice(mid)
	b.shortVol.AddPrice(mid)
	b.kyle.AddBar(bar)

	// 策略使用价格单位的波动率
	sigma := b.vol.RealizedVol() * mid
	state := asmm.MarketState{
		MidPrice:           mid,
		Volatility:         sigma,
		Inventory:          b.acct.Inventory(),
		OrderFlowImbalance: market.BarFlowImbalance(bar),
		KyleLambda:         b.kyle.Lambda(),
	}
	if b.shortVol.IsReady() {
		sv := b.shortVol.RealizedVol() * mid
		state.ShortVolatility = &sv
	}
	if b.vpin != nil {
		b.vpin.AddBar(bar, sigma)
	}
	b.strategy.UpdateMarketData(state)
}

func (b *MarketMakingBacktest) hedgeIfNeeded(i int, bar market.Bar) {
	b.hedger.UpdateInventory(b.acct.Inventory())
	if !b.hedger.ShouldHedge() {
		return
	}
	rec := b.hedger.GetHedgeRecommendation(bar.Close, nil)
	if rec == nil {
		return
	}
	side := sim.Buy
	if rec.Side == hedge.SideSell {
		side = sim.Sell
	}
	price := b.takerPrice(bar, side)
	res, err := b.fill(bar, side, rec.HedgeSize, price, b.cfg.TakerFee, ExitHedge)
	if err != nil {
		b.logger.Warn("hedge fill failed", zap.Error(err))
		return
	}
	slip := math.Abs(price-bar.Close) * rec.HedgeSize
	b.slip += slip
	b.takerFills++
	b.hedges++
	b.hedger.RecordHedge(rec.HedgeSize, rec.Side, price, res.Fee+slip, res.Realized)
	b.analyzer.OnFill("hedge-"+strconv.Itoa(i), price, string(side), i)
	metrics.Hedges.WithLabelValues(string(rec.Urgency)).Inc()
	metrics.IncrementFills(string(side), "taker")
}

// takerPrice 收盘价加固定滑点，再按延迟占K线周期的比例叠加不利漂移。
func (b *MarketMakingBacktest) takerPrice(bar market.Bar, side sim.Side) float64 {
	adj := b.cfg.HedgeSlippageBps / 1e4 * bar.Close
	if b.cfg.LatencyMaxMs > 0 {
		frac := math.Min(1, float64(b.latency.Draw())/float64(b.cfg.BarInterval))
		adj += frac * bar.Range() / 2
	}
	if side == sim.Buy {
		return bar.Close + adj
	}
	return math.Max(bar.Close-adj, bar.Close*0.5)
}

// deRisk 权益回撤穿越档位时以 taker 单削减库存。
func (b *MarketMakingBacktest) deRisk(i int, bar market.Bar) {
	inv := b.acct.Inventory()
	if inv == 0 {
		return
	}
	eq := b.acct.Equity(bar.Close)
	if b.peak <= 0 {
		return
	}
	ddPct := (b.peak - eq) / b.peak * 100
	qty, band := b.drawdown.Plan(ddPct, inv)
	if qty <= 0 {
		return
	}
	side := sim.Sell
	if inv < 0 {
		side = sim.Buy
	}
	price := b.takerPrice(bar, side)
	if _, err := b.fill(bar, side, qty, price, b.cfg.TakerFee, ExitDeRisk); err != nil {
		b.logger.Warn("de-risk fill failed", zap.Error(err))
		return
	}
	b.slip += math.Abs(price-bar.Close) * qty
	b.takerFills++
	b.analyzer.OnFill("derisk-"+strconv.Itoa(i), price, string(side), i)
	metrics.IncrementFills(string(side), "taker")
	b.logger.Warn("drawdown de-risk",
		zap.Float64("drawdown_pct", ddPct),
		zap.Float64("band", band),
		zap.Float64("qty", qty),
		zap.Float64("inventory_before", inv))
}

// requote 撤单重挂。价格变动不超过 1bp 的挂单保留排队时长。
func (b *MarketMakingBacktest) requote(f sim.Faults, bar market.Bar) {
	if f.StaleQuote && len(b.quotes) > 0 {
		return
	}
	if b.vpin != nil && b.vpin.IsToxic() {
		b.toxic++
		b.quotes = make(map[sim.Side]*restingQuote, 2)
		return
	}
	prev := b.quotes
	b.quotes = make(map[sim.Side]*restingQuote, 2)

	for _, q := range b.strategy.Quotes() {
		if f.RejectOrders {
			b.rejected++
			continue
		}
		side := sim.Buy
		if q.Side == asmm.Ask {
			side = sim.Sell
		}
		periods := 0
		if old, ok := prev[side]; ok && old.price > 0 && math.Abs(q.Price-old.price)/old.price <= 1e-4 {
			periods = old.periods
		}
		b.nextID++
		b.quotes[side] = &restingQuote{
			id:      "q-" + strconv.Itoa(b.nextID),
			side:    side,
			price:   q.Price,
			size:    q.Size,
			periods: periods,
		}
	}
	if f.RejectOrders {
		b.logger.Debug("orders rejected", zap.Time("bar", bar.Timestamp))
	}
}

func (b *MarketMakingBacktest) recordBar(i int, bar market.Bar) float64 {
	inv := b.acct.Inventory()
	eq := b.acct.Equity(bar.Close)
	b.equity = append(b.equity, EquityPoint{
		Timestamp: bar.Timestamp,
		Balance:   b.acct.Capital + inv*b.acct.AvgCost(),
		Equity:    eq,
	})
	if eq > b.peak {
		b.peak = eq
	}
	if b.invN == 0 || inv < b.invMin {
		b.invMin = inv
	}
	if b.invN == 0 || inv > b.invMax {
		b.invMax = inv
	}
	b.invSum += inv
	b.invN++
	b.analyzer.OnMark(i, bar.Close)
	return eq
}

func (b *MarketMakingBacktest) results(lastClose float64) *MMResult {
	final := b.acct.Equity(lastClose)
	if n := len(b.equity); n > 0 {
		final = b.equity[n-1].Equity
	}
	total := final - b.cfg.InitialCapital
	m := computeMetrics(metricInputs{
		initial:     b.cfg.InitialCapital,
		final:       final,
		totalPnL:    total,
		grossPnL:    total + b.acct.Fees + b.funding,
		trades:      b.trades,
		equity:      b.equity,
		tradingFees: b.acct.Fees,
		fundingFees: b.funding,
		slippage:    b.slip,
		barInterval: b.cfg.BarInterval,
	})
	mm := MMMetrics{
		MakerFills:           b.makerFills,
		TakerFills:           b.takerFills,
		HedgeTrades:          b.hedges,
		MinInventory:         b.invMin,
		MaxInventory:         b.invMax,
		TotalFundingPaid:     b.funding,
		AdverseSelectionRate: b.analyzer.Stats().AdverseSelectionRate,
	}
	if b.invN > 0 {
		mm.AvgInventory = b.invSum / float64(b.invN)
	}
	return &MMResult{
		Metrics:          m,
		MMMetrics:        mm,
		RejectedOrders:   b.rejected,
		SkippedBars:      b.skipped,
		ToxicBars:        b.toxic,
		CapitalExhausted: b.exhausted,
	}
}

// Inventory 当前库存。
func (b *MarketMakingBacktest) Inventory() float64 { return b.acct.Inventory() }

// HedgeHistory 对冲记录。
func (b *MarketMakingBacktest) HedgeHistory() []hedge.Record { return b.hedger.History() }
