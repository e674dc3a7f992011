package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// TradeJournal implements domain.TradeJournal on the closed_trades table.
// Decimals travel as text so no precision is lost to float conversion.
type TradeJournal struct {
	pool *pgxpool.Pool
}

var _ domain.TradeJournal = (*TradeJournal)(nil)

// NewTradeJournal creates a TradeJournal backed by pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

// Record inserts t. Re-recording the same trade id is a no-op.
func (j *TradeJournal) Record(ctx context.Context, t domain.ClosedTrade) error {
	const query = `
		INSERT INTO closed_trades (
			id, position_id, symbol, producer_id, side,
			size, entry_price, exit_price, pnl,
			reason, entry_time, exit_time
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12
		) ON CONFLICT (id) DO NOTHING`
	_, err := j.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.Symbol, t.ProducerID, string(t.Side),
		t.Size.String(), t.EntryPrice.String(), t.ExitPrice.String(), t.PnL.String(),
		t.Reason, t.EntryTime, t.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns journaled trades, most recent exit first.
func (j *TradeJournal) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query, args := listQuery(`
		SELECT id, position_id, symbol, producer_id, side,
			size::text, entry_price::text, exit_price::text, pnl::text,
			reason, entry_time, exit_time
		FROM closed_trades WHERE TRUE`, nil, "exit_time", opts)

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// Close is a no-op: the pool belongs to Client.
func (j *TradeJournal) Close() error { return nil }

func scanTrades(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var out []domain.ClosedTrade
	for rows.Next() {
		var (
			t                           domain.ClosedTrade
			side                        string
			size, entry, exitPx, pnlStr string
		)
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Symbol, &t.ProducerID, &side,
			&size, &entry, &exitPx, &pnlStr,
			&t.Reason, &t.EntryTime, &t.ExitTime,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		var err error
		if t.Size, err = decimal.NewFromString(size); err != nil {
			return nil, err
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = decimal.NewFromString(exitPx); err != nil {
			return nil, err
		}
		if t.PnL, err = decimal.NewFromString(pnlStr); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
