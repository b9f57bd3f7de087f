package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Strategy gauges
var (
	ReservationPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_reservation_price",
		Help: "Latest Avellaneda-Stoikov reservation price",
	})
	HalfSpread = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_half_spread",
		Help: "Latest optimal half spread in price units",
	})
	InventoryNet = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_inventory_net",
		Help: "Signed inventory held by the quoting strategy",
	})
	VolatilityRegime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_volatility_regime",
		Help: "Detected market regime (0=calm,1=trend up,2=trend down,3=high vol)",
	})
	StrategyQuotesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_quotes_generated_total",
		Help: "Quotes generated by side",
	}, []string{"side"})
)

// Backtest counters
var (
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Completed backtest runs by engine",
	}, []string{"engine"})
	ClosedTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_closed_trades_total",
		Help: "Closed trades by exit reason",
	}, []string{"reason"})
	RejectedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_rejected_entries_total",
		Help: "Entries skipped before opening a position",
	}, []string{"reason"})
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_fills_total",
		Help: "Simulated fills by side and liquidity (maker/taker)",
	}, []string{"side", "liquidity"})
	FundingPayments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_funding_payments_total",
		Help: "Funding settlements applied",
	})
	Hedges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_hedges_total",
		Help: "Hedge orders by urgency",
	}, []string{"urgency"})
)

// Scenario / optimizer
var (
	ScenarioResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stress_scenario_results_total",
		Help: "Scenario outcomes by family and status (passed, failed, error)",
	}, []string{"family", "status"})
	ScenarioDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stress_scenario_duration_seconds",
		Help:    "Wall time of one scenario run",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	OptimizerTrials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_trials_total",
		Help: "Completed optimisation trials",
	})
	OptimizerBestScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optimizer_best_score",
		Help: "Best objective score seen so far",
	})
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_circuit_breaker_state",
		Help: "Trade admission breaker state (0=closed,1=open,2=half-open)",
	})
)

// UpdateStrategyMetrics 更新做市策略指标
func UpdateStrategyMetrics(reservation, halfSpread, inventory float64) {
	ReservationPrice.Set(reservation)
	HalfSpread.Set(halfSpread)
	InventoryNet.Set(inventory)
}

// IncrementQuotesGenerated 增加报价计数
func IncrementQuotesGenerated(side string) {
	StrategyQuotesGenerated.WithLabelValues(side).Inc()
}

// IncrementFills 增加成交计数
func IncrementFills(side, liquidity string) {
	Fills.WithLabelValues(side, liquidity).Inc()
}

// RecordScenario 记录场景结果
func RecordScenario(family, status string, seconds float64) {
	ScenarioResults.WithLabelValues(family, status).Inc()
	ScenarioDuration.Observe(seconds)
}
