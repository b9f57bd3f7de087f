package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"perp-mm-lab/market"
)

// StrategyFactory 用训练窗口构造测试窗口使用的策略。engine 是该窗口的全新引擎，
// 工厂可以在上面挂载熔断等叠加层；不需要时可忽略参数。
type StrategyFactory func(engine *Engine, train market.Series) StrategyFunc

// Fixed 把固定策略包装为 StrategyFactory。
func Fixed(f StrategyFunc) StrategyFactory {
	return func(*Engine, market.Series) StrategyFunc { return f }
}

// WindowResult 单个 walk-forward 窗口的样本外结果。
type WindowResult struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
	Result     *Result   `json:"result"`
}

// WalkForwardSummary 所有窗口的汇总。
type WalkForwardSummary struct {
	Windows           int     `json:"windows"`
	ProfitableWindows int     `json:"profitable_windows"`
	Consistency       float64 `json:"consistency"` // 盈利窗口占比（百分比）
	AvgReturnPct      float64 `json:"avg_return_pct"`
	AvgSharpe         float64 `json:"avg_sharpe"`
	WorstDrawdownPct  float64 `json:"worst_drawdown_pct"`
	TotalTrades       int     `json:"total_trades"`
}

// WalkForward 滑动窗口样本外验证，一根K线视为一小时。窗口步长为测试长度，
// 每个窗口使用全新引擎；剩余数据不足一个完整窗口时停止。
func WalkForward(cfg EngineConfig, logger *zap.Logger, bars market.Series, factory StrategyFactory, trainHours, testHours int) ([]WindowResult, WalkForwardSummary, error) {
	if len(bars) == 0 {
		return nil, WalkForwardSummary{}, ErrNoData
	}
	if trainHours <= 0 || testHours <= 0 {
		return nil, WalkForwardSummary{}, fmt.Errorf("walk-forward: train %d / test %d must be positive", trainHours, testHours)
	}
	if factory == nil {
		return nil, WalkForwardSummary{}, fmt.Errorf("walk-forward: nil strategy factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var windows []WindowResult
	for start := 0; start+trainHours+testHours <= len(bars); start += testHours {
		train := bars[start : start+trainHours]
		test := bars[start+trainHours : start+trainHours+testHours]

		engine := NewEngine(cfg, logger)
		res, err := engine.Run(test, factory(engine, train))
		if err != nil {
			return windows, summarize(windows), fmt.Errorf("walk-forward window %d: %w", len(windows), err)
		}
		windows = append(windows, WindowResult{
			Index:      len(windows),
			TrainStart: train[0].Timestamp,
			TrainEnd:   train[len(train)-1].Timestamp,
			TestStart:  test[0].Timestamp,
			TestEnd:    test[len(test)-1].Timestamp,
			Result:     res,
		})
		logger.Debug("walk-forward window done",
			zap.Int("window", len(windows)-1),
			zap.Float64("return_pct", res.TotalPnLPct),
			zap.Int("trades", res.TotalTrades))
	}
	return windows, summarize(windows), nil
}

func summarize(windows []WindowResult) WalkForwardSummary {
	s := WalkForwardSummary{Windows: len(windows)}
	if len(windows) == 0 {
		return s
	}
	for _, w := range windows {
		r := w.Result
		if r.TotalPnL > 0 {
			s.ProfitableWindows++
		}
		s.AvgReturnPct += r.TotalPnLPct
		s.AvgSharpe += r.SharpeRatio
		s.WorstDrawdownPct = math.Max(s.WorstDrawdownPct, r.MaxDrawdownPct)
		s.TotalTrades += r.TotalTrades
	}
	n := float64(len(windows))
	s.AvgReturnPct /= n
	s.AvgSharpe /= n
	s.Consistency = float64(s.ProfitableWindows) / n * 100
	return s
}
