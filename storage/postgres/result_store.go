package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *Pool
}

func NewResultStore(pool *Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

var _ storage.ResultStore = (*ResultStore)(nil)

func (s *ResultStore) CreateRun(ctx context.Context, run storage.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, kind, created_at, note) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Kind), run.CreatedAt, run.Note)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("run %s: %w", run.ID, storage.ErrDuplicateKey)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (storage.Run, error) {
	var (
		run  storage.Run
		kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, kind, created_at, note FROM runs WHERE run_id = $1`, id,
	).Scan(&run.ID, &kind, &run.CreatedAt, &run.Note)
	if err != nil {
		if isNotFoundError(err) {
			return storage.Run{}, storage.ErrNotFound
		}
		return storage.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Kind = storage.RunKind(kind)
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// SaveScenarios 在一个事务里批量写入，任一重复则整体失败。
func (s *ResultStore) SaveScenarios(ctx context.Context, runID string, scenarios []scenario.Params) error {
	if len(scenarios) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range scenarios {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode scenario %s: %w", p.ID, err)
		}
		batch.Queue(
			`INSERT INTO scenarios (run_id, scenario_id, family, seed, params) VALUES ($1, $2, $3, $4, $5)`,
			runID, p.ID, string(p.Family), p.Seed, raw)
	}
	return s.sendBatch(ctx, batch, "scenarios")
}

func (s *ResultStore) SaveResults(ctx context.Context, runID string, results []scenario.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		reasons := r.FailureReasons
		if reasons == nil {
			reasons = []string{}
		}
		batch.Queue(`
			INSERT INTO scenario_results (
				run_id, scenario_id, family, success, error_message,
				total_return, sharpe, sortino, max_drawdown_pct, win_rate, profit_factor,
				total_trades, total_fees, capital_exhausted, passed, failure_reasons, duration_ns
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			runID, r.ScenarioID, string(r.Family), r.Success, r.ErrorMessage,
			r.TotalReturn, r.Sharpe, r.Sortino, r.MaxDrawdownPct, r.WinRate, r.ProfitFactor,
			r.TotalTrades, r.TotalFees, r.Exhausted, r.Passed, reasons, int64(r.Duration))
	}
	return s.sendBatch(ctx, batch, "scenario results")
}

func (s *ResultStore) Results(ctx context.Context, runID string) ([]scenario.Result, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT scenario_id, family, success, error_message,
			total_return, sharpe, sortino, max_drawdown_pct, win_rate, profit_factor,
			total_trades, total_fees, capital_exhausted, passed, failure_reasons, duration_ns
		FROM scenario_results WHERE run_id = $1 ORDER BY scenario_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []scenario.Result
	for rows.Next() {
		var (
			r        scenario.Result
			family   string
			duration int64
		)
		if err := rows.Scan(&r.ScenarioID, &family, &r.Success, &r.ErrorMessage,
			&r.TotalReturn, &r.Sharpe, &r.Sortino, &r.MaxDrawdownPct, &r.WinRate, &r.ProfitFactor,
			&r.TotalTrades, &r.TotalFees, &r.Exhausted, &r.Passed, &r.FailureReasons, &duration); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Family = scenario.Family(family)
		r.Duration = time.Duration(duration)
		if len(r.FailureReasons) == 0 {
			r.FailureReasons = nil
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ResultStore) SaveEvaluations(ctx context.Context, runID string, evals []optimizer.Evaluation) error {
	if len(evals) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range evals {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		metrics, err := json.Marshal(e.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		failures := e.Failures
		if failures == nil {
			failures = []string{}
		}
		batch.Queue(
			`INSERT INTO optimizer_evaluations (run_id, trial, score, meets, params, metrics, failures)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, e.Trial, e.Score, e.Meets, params, metrics, failures)
	}
	return s.sendBatch(ctx, batch, "evaluations")
}

func (s *ResultStore) Evaluations(ctx context.Context, runID string) ([]optimizer.Evaluation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trial, score, meets, params, metrics, failures
		FROM optimizer_evaluations WHERE run_id = $1 ORDER BY trial`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []optimizer.Evaluation
	for rows.Next() {
		var (
			e               optimizer.Evaluation
			params, metrics []byte
		)
		if err := rows.Scan(&e.Trial, &e.Score, &e.Meets, &params, &metrics, &e.Failures); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if err := json.Unmarshal(params, &e.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		if len(e.Failures) == 0 {
			e.Failures = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// sendBatch 事务内执行批量语句。
func (s *ResultStore) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%s: %w", what, storage.ErrDuplicateKey)
			}
			return fmt.Errorf("insert %s: %w", what, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *ResultStore) Close() error {
	s.pool.Close()
	return nil
}
