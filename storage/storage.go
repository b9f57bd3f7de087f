// Package storage 定义压力测试、优化与回测结果的持久化接口。
// 实现见 memory、jsonfile、postgres（结果库）和 clickhouse（权益曲线/成交明细）。
package storage

import (
	"context"
	"errors"
	"time"

	"perp-mm-lab/backtest"
	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
)

var (
	// ErrNotFound is returned when a requested run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey 同一个 run 重复写入。
	ErrDuplicateKey = errors.New("duplicate key")

	ErrInvalidInput = errors.New("invalid input")
)

// RunKind 运行类型。
type RunKind string

const (
	RunStress   RunKind = "stress"
	RunOptimize RunKind = "optimize"
	RunBacktest RunKind = "backtest"
	RunPaper    RunKind = "paper"
)

// Run 一次运行的元数据。
type Run struct {
	ID        string    `json:"run_id"`
	Kind      RunKind   `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note,omitempty"`
}

func (r Run) Validate() error {
	if r.ID == "" || r.Kind == "" {
		return ErrInvalidInput
	}
	return nil
}

// ResultStore 保存场景、场景结果与优化评估。写入按 run 追加，不支持覆盖。
type ResultStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	SaveScenarios(ctx context.Context, runID string, scenarios []scenario.Params) error
	SaveResults(ctx context.Context, runID string, results []scenario.Result) error
	Results(ctx context.Context, runID string) ([]scenario.Result, error)
	SaveEvaluations(ctx context.Context, runID string, evals []optimizer.Evaluation) error
	Evaluations(ctx context.Context, runID string) ([]optimizer.Evaluation, error)
	Close() error
}

// SeriesSink 导出权益曲线与平仓记录，供分析库使用。
type SeriesSink interface {
	WriteEquity(ctx context.Context, runID, scenarioID string, curve []backtest.EquityPoint) error
	WriteTrades(ctx context.Context, runID, scenarioID string, trades []backtest.ClosedTrade) error
	Close() error
}
