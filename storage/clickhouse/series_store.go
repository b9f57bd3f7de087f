package clickhouse

import (
	"context"
	"fmt"

	"perp-mm-lab/backtest"
	"perp-mm-lab/storage"
)

// SeriesStore implements storage.SeriesSink. MergeTree 不去重，重复导出需调用方避免。
type SeriesStore struct {
	conn *Conn
}

func NewSeriesStore(conn *Conn) *SeriesStore {
	return &SeriesStore{conn: conn}
}

var _ storage.SeriesSink = (*SeriesStore)(nil)

func (s *SeriesStore) WriteEquity(ctx context.Context, runID, scenarioID string, curve []backtest.EquityPoint) error {
	if len(curve) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (run_id, scenario_id, timestamp_ms, balance, equity)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, p := range curve {
		if err := batch.Append(runID, scenarioID, uint64(p.Timestamp.UnixMilli()), p.Balance, p.Equity); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *SeriesStore) WriteTrades(ctx context.Context, runID, scenarioID string, trades []backtest.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO closed_trades (
			run_id, scenario_id, seq, side, entry_price, exit_price, amount, leverage,
			gross_pnl, trading_fees, funding_fees, net_pnl, pnl_pct, exit_reason,
			entry_time_ms, exit_time_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i, t := range trades {
		err := batch.Append(
			runID, scenarioID, uint32(i), string(t.Side), t.EntryPrice, t.ExitPrice, t.Amount, t.Leverage,
			t.GrossPnL, t.TradingFees, t.FundingFees, t.NetPnL, t.PnLPct, t.ExitReason,
			uint64(t.EntryTime.UnixMilli()), uint64(t.ExitTime.UnixMilli()),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// EquityCount 某个场景导出的权益点数。
func (s *SeriesStore) EquityCount(ctx context.Context, runID, scenarioID string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM equity_curve WHERE run_id = ? AND scenario_id = ?`, runID, scenarioID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count equity: %w", err)
	}
	return n, nil
}

// NetPnL 某个场景的平仓净盈亏合计。
func (s *SeriesStore) NetPnL(ctx context.Context, runID, scenarioID string) (float64, error) {
	var total float64
	err := s.conn.QueryRow(ctx,
		`SELECT sum(net_pnl) FROM closed_trades WHERE run_id = ? AND scenario_id = ?`, runID, scenarioID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum net pnl: %w", err)
	}
	return total, nil
}

func (s *SeriesStore) Close() error {
	return s.conn.Close()
}
