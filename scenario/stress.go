package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/backtest"
	"perp-mm-lab/market"
	"perp-mm-lab/metrics"
	"perp-mm-lab/risk"
	"perp-mm-lab/strategy"
)

var ErrNoStrategy = errors.New("directional mode requires a strategy builder")

// Mode 压力测试使用的回测引擎。
type Mode string

const (
	ModeMarketMaking Mode = "market_making"
	ModeDirectional  Mode = "directional"
)

// Criteria 场景通过标准。
type Criteria struct {
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`
	MinSharpe      float64 `yaml:"min_sharpe"` // 压力类场景不检查
}

func DefaultCriteria() Criteria {
	return Criteria{MaxDrawdownPct: 20, MinSharpe: 0}
}

// 失败原因前缀，用于汇总分组。
const (
	ReasonDrawdown  = "max_drawdown"
	ReasonExhausted = "capital_exhausted"
	ReasonSharpe    = "sharpe_below_floor"
	ReasonError     = "error"
)

// StressTester 批量运行场景。每个场景独立构造引擎与随机源，单个场景的错误或 panic
// 只记录到该场景的结果中。
type StressTester struct {
	Mode     Mode
	MM       backtest.MMConfig
	Engine   backtest.EngineConfig
	Strategy *strategy.Builder // ModeDirectional 必填
	Criteria Criteria
	Workers  int

	Simulator *MarketDataSimulator
	Logger    *zap.Logger

	// 通过率（百分比）低于 AlertPassRate 时发送告警
	Alerts        risk.AlertClient
	AlertPassRate float64
}

func NewStressTester(logger *zap.Logger) *StressTester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StressTester{
		Mode:      ModeMarketMaking,
		MM:        backtest.DefaultMMConfig(),
		Engine:    backtest.DefaultEngineConfig(),
		Criteria:  DefaultCriteria(),
		Workers:   1,
		Simulator: NewMarketDataSimulator(),
		Logger:    logger.Named("stress"),
	}
}

// Run 按输入顺序返回结果。ctx 取消后未开始的场景记为错误，汇总照常生成。
func (t *StressTester) Run(ctx context.Context, scenarios []Params) ([]Result, Summary, error) {
	start := time.Now()
	results := make([]Result, len(scenarios))
	workers := t.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = t.RunOne(scenarios[i])
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(scenarios); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(scenarios); i++ {
		results[i] = Result{
			ScenarioID:     scenarios[i].ID,
			Family:         scenarios[i].Family,
			ErrorMessage:   "canceled: " + ctx.Err().Error(),
			FailureReasons: []string{ReasonError + ": canceled"},
		}
	}

	sum := Summarize(results)
	sum.Duration = time.Since(start)
	t.notify(sum)
	if next < len(scenarios) {
		return results, sum, ctx.Err()
	}
	return results, sum, nil
}

// RunOne 运行单个场景；错误和 panic 转为 Success=false 的结果。
func (t *StressTester) RunOne(p Params) (res Result) {
	start := time.Now()
	res = Result{ScenarioID: p.ID, Family: p.Family}
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				ScenarioID:   p.ID,
				Family:       p.Family,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			}
			t.Logger.Error("scenario panic",
				zap.String("scenario_id", p.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
		res.Duration = time.Since(start)
		if !res.Success {
			res.FailureReasons = []string{ReasonError + ": " + res.ErrorMessage}
		}
		t.record(p, res)
	}()

	sim := t.Simulator
	if sim == nil {
		sim = NewMarketDataSimulator()
	}
	series, err := sim.GenerateAssets(p)
	if err != nil {
		res.ErrorMessage = err.Error()
		return res
	}

	var agg aggregate
	for _, s := range series {
		m, err := t.runSeries(p, s)
		if err != nil {
			res.ErrorMessage = err.Error()
			return res
		}
		agg.add(m)
	}
	agg.fill(&res)
	res.Success = true
	t.evaluate(p, &res)
	return res
}

// runMetrics 单个资产的回测指标。
type runMetrics struct {
	backtest.Metrics
	exhausted bool
}

func (t *StressTester) runSeries(p Params, s market.Series) (runMetrics, error) {
	switch t.Mode {
	case ModeDirectional:
		return t.runDirectional(p, s)
	default:
		return t.runMM(p, s)
	}
}

func (t *StressTester) runMM(p Params, s market.Series) (runMetrics, error) {
	cfg := t.MM
	cfg.MakerFee = p.MakerFee
	cfg.TakerFee = p.TakerFee
	cfg.FundingRate = p.FundingRate
	cfg.Seed = p.Seed
	cfg.HedgeSlippageBps = p.SlippageBps
	cfg.OrderRejectProb = p.OrderRejectProb
	cfg.DataGapProb = p.DataGapProb
	cfg.StaleQuoteProb = p.StaleQuoteProb
	cfg.LatencyMinMs = p.LatencyMinMs
	cfg.LatencyMaxMs = p.LatencyMaxMs

	bt, err := backtest.NewMarketMakingBacktest(cfg, t.Logger)
	if err != nil {
		return runMetrics{}, err
	}
	r, err := bt.Run(s)
	if err != nil {
		return runMetrics{}, err
	}
	return runMetrics{Metrics: r.Metrics, exhausted: r.CapitalExhausted}, nil
}

func (t *StressTester) runDirectional(p Params, s market.Series) (runMetrics, error) {
	if t.Strategy == nil {
		return runMetrics{}, ErrNoStrategy
	}
	cfg := t.Engine
	cfg.TradingFeeRate = p.TakerFee
	cfg.MakerFeeRate = p.MakerFee
	cfg.FundingRate = p.FundingRate
	cfg.SlippageBps = p.SlippageBps

	if p.TrainBars > 0 && p.TestBars > 0 {
		windows, sum, err := backtest.WalkForward(cfg, t.Logger, s, t.Strategy.Factory(), p.TrainBars, p.TestBars)
		if err != nil {
			return runMetrics{}, err
		}
		return walkForwardMetrics(windows, sum, cfg.InitialBalance), nil
	}

	e := backtest.NewEngine(cfg, t.Logger)
	fn, err := t.Strategy.Attach(e, s)
	if err != nil {
		return runMetrics{}, err
	}
	r, err := e.Run(s, fn)
	if err != nil {
		return runMetrics{}, err
	}
	return runMetrics{Metrics: r.Metrics, exhausted: r.FinalBalance <= 0}, nil
}

// walkForwardMetrics 把各窗口样本外结果折算成一组指标。
func walkForwardMetrics(windows []backtest.WindowResult, sum backtest.WalkForwardSummary, initial float64) runMetrics {
	var m backtest.Metrics
	m.TotalPnLPct = sum.AvgReturnPct
	m.SharpeRatio = sum.AvgSharpe
	m.MaxDrawdownPct = sum.WorstDrawdownPct
	m.TotalTrades = sum.TotalTrades
	m.FinalBalance = initial * (1 + sum.AvgReturnPct/100)
	if len(windows) == 0 {
		return runMetrics{Metrics: m}
	}
	for _, w := range windows {
		m.SortinoRatio += w.Result.SortinoRatio
		m.WinRate += w.Result.WinRate
		m.ProfitFactor += w.Result.ProfitFactor
		m.TotalFees += w.Result.TotalFees
	}
	n := float64(len(windows))
	m.SortinoRatio /= n
	m.WinRate /= n
	m.ProfitFactor /= n
	return runMetrics{Metrics: m}
}

type aggregate struct {
	n         int
	ret       float64
	sharpe    float64
	sortino   float64
	winRate   float64
	pf        float64
	dd        float64
	fees      float64
	trades    int
	exhausted bool
}

func (a *aggregate) add(m runMetrics) {
	a.n++
	a.ret += m.TotalPnLPct
	a.sharpe += m.SharpeRatio
	a.sortino += m.SortinoRatio
	a.winRate += m.WinRate
	a.pf += m.ProfitFactor
	a.dd = math.Max(a.dd, m.MaxDrawdownPct)
	a.fees += m.TotalFees
	a.trades += m.TotalTrades
	a.exhausted = a.exhausted || m.exhausted
}

func (a aggregate) fill(r *Result) {
	if a.n == 0 {
		return
	}
	n := float64(a.n)
	r.TotalReturn = a.ret / n
	r.Sharpe = a.sharpe / n
	r.Sortino = a.sortino / n
	r.WinRate = a.winRate / n
	r.ProfitFactor = a.pf / n
	r.MaxDrawdownPct = a.dd
	r.TotalFees = a.fees
	r.TotalTrades = a.trades
	r.Exhausted = a.exhausted
}

func (t *StressTester) evaluate(p Params, r *Result) {
	var reasons []string
	if r.MaxDrawdownPct > t.Criteria.MaxDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("%s: %.2f%% > %.2f%%", ReasonDrawdown, r.MaxDrawdownPct, t.Criteria.MaxDrawdownPct))
	}
	if r.Exhausted {
		reasons = append(reasons, ReasonExhausted+": equity reached zero")
	}
	if !p.IsStress() && r.Sharpe < t.Criteria.MinSharpe {
		reasons = append(reasons, fmt.Sprintf("%s: %.2f < %.2f", ReasonSharpe, r.Sharpe, t.Criteria.MinSharpe))
	}
	r.FailureReasons = reasons
	r.Passed = len(reasons) == 0
}

func (t *StressTester) record(p Params, r Result) {
	status := "passed"
	switch {
	case !r.Success:
		status = "error"
		t.Logger.Warn("scenario failed",
			zap.String("scenario_id", p.ID),
			zap.String("error", r.ErrorMessage))
	case !r.Passed:
		status = "failed"
		t.Logger.Info("scenario did not pass",
			zap.String("scenario_id", p.ID),
			zap.Strings("reasons", r.FailureReasons))
	}
	metrics.RecordScenario(string(p.Family), status, r.Duration.Seconds())
}

func (t *StressTester) notify(s Summary) {
	if t.Alerts == nil || s.Total == 0 || s.PassRate >= t.AlertPassRate {
		return
	}
	msg := fmt.Sprintf("stress pass rate %.1f%% below %.1f%% (passed=%d failed=%d errors=%d)",
		s.PassRate, t.AlertPassRate, s.Passed, s.Failed, s.Errors)
	t.Alerts.Send("StressTest", msg)
}

// reasonKey 取失败原因的分组前缀。
func reasonKey(r string) string {
	if i := strings.Index(r, ":"); i >= 0 {
		return r[:i]
	}
	return r
}
