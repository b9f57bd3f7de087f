// Package memory 进程内的 ResultStore / SeriesSink，用于测试和不落盘的运行。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"perp-mm-lab/backtest"
	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

type runData struct {
	run       storage.Run
	scenarios []scenario.Params
	results   []scenario.Result
	evals     []optimizer.Evaluation
}

// Store 并发安全；读取返回副本。
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*runData
	equity map[string][]backtest.EquityPoint
	trades map[string][]backtest.ClosedTrade
}

func New() *Store {
	return &Store{
		runs:   make(map[string]*runData),
		equity: make(map[string][]backtest.EquityPoint),
		trades: make(map[string][]backtest.ClosedTrade),
	}
}

var (
	_ storage.ResultStore = (*Store)(nil)
	_ storage.SeriesSink  = (*Store)(nil)
)

func (s *Store) CreateRun(_ context.Context, run storage.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrDuplicateKey)
	}
	s.runs[run.ID] = &runData{run: run}
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rd, ok := s.runs[id]
	if !ok {
		return storage.Run{}, storage.ErrNotFound
	}
	return rd.run, nil
}

// ListRuns 按创建时间排序。
func (s *Store) ListRuns() []storage.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Run, 0, len(s.runs))
	for _, rd := range s.runs {
		out = append(out, rd.run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) lookup(id string) (*runData, error) {
	rd, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return rd, nil
}

func (s *Store) SaveScenarios(_ context.Context, runID string, scenarios []scenario.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return err
	}
	if rd.scenarios != nil {
		return fmt.Errorf("scenarios for %s: %w", runID, storage.ErrDuplicateKey)
	}
	rd.scenarios = append([]scenario.Params{}, scenarios...)
	return nil
}

func (s *Store) Scenarios(_ context.Context, runID string) ([]scenario.Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return append([]scenario.Params{}, rd.scenarios...), nil
}

func (s *Store) SaveResults(_ context.Context, runID string, results []scenario.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(rd.results)+len(results))
	for _, r := range rd.results {
		seen[r.ScenarioID] = struct{}{}
	}
	for _, r := range results {
		if _, ok := seen[r.ScenarioID]; ok {
			return fmt.Errorf("result %s: %w", r.ScenarioID, storage.ErrDuplicateKey)
		}
		seen[r.ScenarioID] = struct{}{}
	}
	rd.results = append(rd.results, results...)
	return nil
}

func (s *Store) Results(_ context.Context, runID string) ([]scenario.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return append([]scenario.Result{}, rd.results...), nil
}

func (s *Store) SaveEvaluations(_ context.Context, runID string, evals []optimizer.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return err
	}
	rd.evals = append(rd.evals, evals...)
	return nil
}

func (s *Store) Evaluations(_ context.Context, runID string) ([]optimizer.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rd, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return append([]optimizer.Evaluation{}, rd.evals...), nil
}

func seriesKey(runID, scenarioID string) string { return runID + "/" + scenarioID }

func (s *Store) WriteEquity(_ context.Context, runID, scenarioID string, curve []backtest.EquityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey(runID, scenarioID)
	s.equity[k] = append(s.equity[k], curve...)
	return nil
}

func (s *Store) WriteTrades(_ context.Context, runID, scenarioID string, trades []backtest.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey(runID, scenarioID)
	s.trades[k] = append(s.trades[k], trades...)
	return nil
}

func (s *Store) Equity(runID, scenarioID string) []backtest.EquityPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]backtest.EquityPoint{}, s.equity[seriesKey(runID, scenarioID)]...)
}

func (s *Store) Trades(runID, scenarioID string) []backtest.ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]backtest.ClosedTrade{}, s.trades[seriesKey(runID, scenarioID)]...)
}

func (s *Store) Close() error { return nil }
