// Package sqlite keeps the trade journal and audit log in a local SQLite file
// for deployments without postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id          TEXT PRIMARY KEY,
	position_id TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	producer_id TEXT    NOT NULL,
	side        TEXT    NOT NULL,
	size        TEXT    NOT NULL,
	entry_price TEXT    NOT NULL,
	exit_price  TEXT    NOT NULL,
	pnl         TEXT    NOT NULL,
	reason      TEXT    NOT NULL,
	entry_time  INTEGER NOT NULL,
	exit_time   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS closed_trades_exit_time_idx ON closed_trades (exit_time);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT    NOT NULL,
	detail     TEXT,
	created_at INTEGER NOT NULL
);
`

// DB is an open journal database shared by TradeJournal and AuditStore.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path in WAL mode.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); !strings.HasPrefix(path, ":memory:") && !strings.HasPrefix(path, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer keeps WAL happy and makes the in-memory DSN usable in tests.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// TradeJournal implements domain.TradeJournal on the closed_trades table.
type TradeJournal struct {
	db *sql.DB
}

var _ domain.TradeJournal = (*TradeJournal)(nil)

// NewTradeJournal returns a journal over d.
func NewTradeJournal(d *DB) *TradeJournal {
	return &TradeJournal{db: d.db}
}

// Close is a no-op: the database belongs to DB.
func (s *TradeJournal) Close() error { return nil }

// Record inserts t; a repeated id is ignored.
func (s *TradeJournal) Record(ctx context.Context, t domain.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_trades (
			id, position_id, symbol, producer_id, side,
			size, entry_price, exit_price, pnl,
			reason, entry_time, exit_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.PositionID, t.Symbol, t.ProducerID, string(t.Side),
		t.Size.String(), t.EntryPrice.String(), t.ExitPrice.String(), t.PnL.String(),
		t.Reason, t.EntryTime.UnixNano(), t.ExitTime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns journaled trades, most recent exit first.
func (s *TradeJournal) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query, args := listQuery(`
		SELECT id, position_id, symbol, producer_id, side,
			size, entry_price, exit_price, pnl,
			reason, entry_time, exit_time
		FROM closed_trades`, "exit_time", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var (
			t                        domain.ClosedTrade
			side                     string
			size, entry, exitPx, pnl string
			entryNanos, exitNanos    int64
		)
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Symbol, &t.ProducerID, &side,
			&size, &entry, &exitPx, &pnl,
			&t.Reason, &entryNanos, &exitNanos,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.EntryTime = time.Unix(0, entryNanos).UTC()
		t.ExitTime = time.Unix(0, exitNanos).UTC()
		if t.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s size: %w", t.ID, err)
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s entry: %w", t.ID, err)
		}
		if t.ExitPrice, err = decimal.NewFromString(exitPx); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s exit: %w", t.ID, err)
		}
		if t.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s pnl: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AuditStore implements domain.AuditStore on the audit_log table.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore returns an audit log over d.
func NewAuditStore(d *DB) *AuditStore {
	return &AuditStore{db: d.db, now: time.Now}
}

// Log appends an audit entry with detail encoded as JSON.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit rows newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := listQuery(`SELECT id, event, detail, created_at FROM audit_log`, "created_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail sql.NullString
			nanos  int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &nanos); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, nanos).UTC()
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, timeCol+" >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		where = append(where, timeCol+" <= ?")
		args = append(args, opts.Until.UnixNano())
	}
	q := base
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + timeCol + " DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}
	return q, args
}
