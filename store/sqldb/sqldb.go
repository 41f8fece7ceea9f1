/*
Package sqldb provides the database/sql implementation shared by the SQLite
and MySQL stores.

PURPOSE:
  Persists raw records (trades, stock operations, snapshots) and serves
  them back as stock.Source. The two drivers differ only in DDL; every
  query uses '?' placeholders and portable SQL.

KEY TABLES:
  trades:           buy/sell headers
  trade_lines:      one row per item line of a trade
  stock_operations: transfers, adjustments, stock-takes, conversions
  operation_lines:  one row per item line of an operation
  stock_snapshots:  independently recorded per-store levels
  reconciliation_runs: append-only history of reconciliation outcomes

ENCODING:
  Times:    fixed-width UTC text "2006-01-02 15:04:05.000000" (DATETIME(6) on
            MySQL), so range predicates compare correctly as text or datetime
  Decimals: passed as decimal.Decimal (driver.Valuer, sql.Scanner); TEXT on
            SQLite, DECIMAL(18,6) on MySQL

WRITE SEMANTICS:
  Save* replaces a record by ID inside one transaction (delete lines, delete
  header, insert). Records are otherwise immutable.

INDEXES:
  - idx_trades_occurred_at, idx_operations_occurred_at: window scans
  - idx_trade_lines_item, idx_operation_lines_item: item filter
  - idx_snapshots_item_taken_at: boundary lookups (hot path)

SEE ALSO:
  - store/sqlite: SQLite DDL + WAL setup
  - store/mysql: MySQL DDL + DSN
  - stock/source.go: the interface served here
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockledger/stock"
)

// TimeLayout is the on-disk representation of every timestamp.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Dialect carries the driver-specific parts of the store.
type Dialect struct {
	Name   string
	Schema []string // executed in order by Migrate
}

// Store implements stock.Source and the record writes over *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// DB exposes the underlying handle (tests, health checks).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() string { return s.dialect.Name }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. Statements must be idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx executes fn within a transaction; any error rolls back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveTransaction inserts or replaces a trade and its lines.
func (s *Store) SaveTransaction(ctx context.Context, t stock.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trade_lines WHERE trade_id = ?`, t.ID); err != nil {
			return fmt.Errorf("failed to replace trade lines: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE id = ?`, t.ID); err != nil {
			return fmt.Errorf("failed to replace trade: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, trade_type, occurred_at, store_no, active, bill_code, customer, comments)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, string(t.Type), formatTime(t.At), int(t.Store), t.Active, t.BillCode, t.Customer, t.Comments,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		return insertLines(ctx, tx, "trade_lines", "trade_id", t.ID, t.Lines)
	})
}

// SaveOperation inserts or replaces a stock operation and its lines.
func (s *Store) SaveOperation(ctx context.Context, op stock.Operation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM operation_lines WHERE operation_id = ?`, op.ID); err != nil {
			return fmt.Errorf("failed to replace operation lines: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stock_operations WHERE id = ?`, op.ID); err != nil {
			return fmt.Errorf("failed to replace operation: %w", err)
		}

		var (
			fromItem, toItem sql.NullString
			fromQty, toQty   decimal.NullDecimal
		)
		if c := op.Conversion; c != nil {
			fromItem = sql.NullString{String: string(c.FromItem), Valid: true}
			toItem = sql.NullString{String: string(c.ToItem), Valid: true}
			fromQty = decimal.NullDecimal{Decimal: c.FromQty, Valid: true}
			toQty = decimal.NullDecimal{Decimal: c.ToQty, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_operations
			(id, code, occurred_at, store_no, to_store_no, wastage, surplus, active,
			 lorry, destination, comments, conv_from_item, conv_to_item, conv_from_qty, conv_to_qty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, op.Code, formatTime(op.At), int(op.Store), int(op.ToStore), op.Wastage, op.Surplus, op.Active,
			op.Lorry, op.Destination, op.Comments, fromItem, toItem, fromQty, toQty,
		)
		if err != nil {
			return fmt.Errorf("failed to insert operation: %w", err)
		}
		return insertLines(ctx, tx, "operation_lines", "operation_id", op.ID, op.Lines)
	})
}

func insertLines(ctx context.Context, db execer, table, fk, id string, lines []stock.Line) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, line_no, item_id, quantity) VALUES (?, ?, ?, ?)`, table, fk)
	for i, l := range lines {
		if _, err := db.ExecContext(ctx, query, id, i, string(l.Item), l.Quantity); err != nil {
			return fmt.Errorf("failed to insert %s: %w", table, err)
		}
	}
	return nil
}

// SaveSnapshot inserts or replaces a snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap stock.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stock_snapshots WHERE id = ?`, snap.ID); err != nil {
			return fmt.Errorf("failed to replace snapshot: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_snapshots (id, item_id, taken_at, store1, store2, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			snap.ID, string(snap.Item), formatTime(snap.At), snap.Levels.Store1, snap.Levels.Store2, string(snap.Reason),
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		return nil
	})
}

// Reset clears all tables (development only).
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"trade_lines", "trades", "operation_lines", "stock_operations", "stock_snapshots", "reconciliation_runs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// RecordItems returns the items touched by the stored record of kind with id,
// or nil when there is none. Callers use it to invalidate what a replace
// removes.
func (s *Store) RecordItems(ctx context.Context, kind stock.EventSource, id string) ([]stock.ItemID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	switch kind {
	case stock.SourceTransaction:
		query = `SELECT item_id FROM trade_lines WHERE trade_id = ? ORDER BY line_no`
	case stock.SourceOperation:
		query = `
			SELECT item_id FROM operation_lines WHERE operation_id = ?
			UNION ALL
			SELECT conv_from_item FROM stock_operations WHERE id = ? AND conv_from_item IS NOT NULL
			UNION ALL
			SELECT conv_to_item FROM stock_operations WHERE id = ? AND conv_to_item IS NOT NULL`
	case stock.SourceSnapshot:
		query = `SELECT item_id FROM stock_snapshots WHERE id = ?`
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	args := []any{id}
	if kind == stock.SourceOperation {
		args = []any{id, id, id}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s items: %w", kind, err)
	}
	defer rows.Close()

	var items []stock.ItemID
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("failed to scan %s item: %w", kind, err)
		}
		items = append(items, stock.ItemID(item))
	}
	return items, rows.Err()
}

// =============================================================================
// READS (stock.Source)
// =============================================================================

// Records returns the raw records of item in w. See stock.Source.
func (s *Store) Records(ctx context.Context, item stock.ItemID, w stock.Window) ([]stock.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := formatTime(w.Start), formatTime(w.End)

	trades, err := s.queryTrades(ctx, item, start, end)
	if err != nil {
		return nil, err
	}
	ops, err := s.queryOperations(ctx, item, start, end)
	if err != nil {
		return nil, err
	}
	snaps, err := s.querySnapshots(ctx, `
		SELECT id, item_id, taken_at, store1, store2, reason
		FROM stock_snapshots
		WHERE item_id = ? AND taken_at > ? AND taken_at < ?
		ORDER BY taken_at ASC, id ASC`,
		string(item), start, end)
	if err != nil {
		return nil, err
	}

	out := make([]stock.RawRecord, 0, len(trades)+len(ops)+len(snaps))
	for _, t := range trades {
		out = append(out, t)
	}
	for _, op := range ops {
		out = append(out, op)
	}
	for _, snap := range snaps {
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) queryTrades(ctx context.Context, item stock.ItemID, start, end string) ([]stock.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.trade_type, t.occurred_at, t.store_no, t.active, t.bill_code, t.customer, t.comments,
		       l.item_id, l.quantity
		FROM trades t
		JOIN trade_lines l ON l.trade_id = t.id
		WHERE l.item_id = ? AND t.occurred_at >= ? AND t.occurred_at <= ?
		ORDER BY t.occurred_at ASC, t.id ASC, l.line_no ASC`,
		string(item), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []stock.Transaction
	for rows.Next() {
		var (
			t        stock.Transaction
			tradeTyp string
			at       dbTime
			store    int
			lineItem string
			qty      decimal.Decimal
		)
		if err := rows.Scan(&t.ID, &tradeTyp, &at, &store, &t.Active, &t.BillCode, &t.Customer, &t.Comments, &lineItem, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		line := stock.Line{Item: stock.ItemID(lineItem), Quantity: qty}
		if n := len(out); n > 0 && out[n-1].ID == t.ID {
			out[n-1].Lines = append(out[n-1].Lines, line)
			continue
		}
		t.Type = stock.TradeType(tradeTyp)
		t.At = at.Time
		t.Store = stock.StoreNo(store)
		t.Lines = []stock.Line{line}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) queryOperations(ctx context.Context, item stock.ItemID, start, end string) ([]stock.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.code, o.occurred_at, o.store_no, o.to_store_no, o.wastage, o.surplus, o.active,
		       o.lorry, o.destination, o.comments,
		       o.conv_from_item, o.conv_to_item, o.conv_from_qty, o.conv_to_qty,
		       l.item_id, l.quantity
		FROM stock_operations o
		LEFT JOIN operation_lines l ON l.operation_id = o.id AND l.item_id = ?
		WHERE o.occurred_at >= ? AND o.occurred_at <= ?
		  AND (l.item_id IS NOT NULL OR o.conv_to_item = ?)
		ORDER BY o.occurred_at ASC, o.id ASC, l.line_no ASC`,
		string(item), start, end, string(item))
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var out []stock.Operation
	for rows.Next() {
		var (
			op               stock.Operation
			at               dbTime
			store, toStore   int
			fromItem, toItem sql.NullString
			fromQty, toQty   decimal.NullDecimal
			lineItem         sql.NullString
			qty              decimal.NullDecimal
		)
		if err := rows.Scan(&op.ID, &op.Code, &at, &store, &toStore, &op.Wastage, &op.Surplus, &op.Active,
			&op.Lorry, &op.Destination, &op.Comments,
			&fromItem, &toItem, &fromQty, &toQty,
			&lineItem, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		var line *stock.Line
		if lineItem.Valid {
			line = &stock.Line{Item: stock.ItemID(lineItem.String), Quantity: qty.Decimal}
		}
		if n := len(out); n > 0 && out[n-1].ID == op.ID {
			if line != nil {
				out[n-1].Lines = append(out[n-1].Lines, *line)
			}
			continue
		}

		op.At = at.Time
		op.Store = stock.StoreNo(store)
		op.ToStore = stock.StoreNo(toStore)
		if toItem.Valid {
			op.Conversion = &stock.Conversion{
				FromItem: stock.ItemID(fromItem.String),
				ToItem:   stock.ItemID(toItem.String),
				FromQty:  fromQty.Decimal,
				ToQty:    toQty.Decimal,
			}
		}
		if line != nil {
			op.Lines = []stock.Line{*line}
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// SnapshotAtOrBefore returns the latest snapshot of item at or before at, or nil.
func (s *Store) SnapshotAtOrBefore(ctx context.Context, item stock.ItemID, at time.Time) (*stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotRow(ctx, `
		SELECT id, item_id, taken_at, store1, store2, reason
		FROM stock_snapshots
		WHERE item_id = ? AND taken_at <= ?
		ORDER BY taken_at DESC, id DESC
		LIMIT 1`,
		string(item), formatTime(at))
}

// SnapshotAtOrAfter returns the earliest snapshot of item at or after at, or nil.
func (s *Store) SnapshotAtOrAfter(ctx context.Context, item stock.ItemID, at time.Time) (*stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotRow(ctx, `
		SELECT id, item_id, taken_at, store1, store2, reason
		FROM stock_snapshots
		WHERE item_id = ? AND taken_at >= ?
		ORDER BY taken_at ASC, id ASC
		LIMIT 1`,
		string(item), formatTime(at))
}

// Snapshots returns every snapshot of item in time order.
func (s *Store) Snapshots(ctx context.Context, item stock.ItemID) ([]stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySnapshots(ctx, `
		SELECT id, item_id, taken_at, store1, store2, reason
		FROM stock_snapshots
		WHERE item_id = ?
		ORDER BY taken_at ASC, id ASC`,
		string(item))
}

func (s *Store) snapshotRow(ctx context.Context, query string, args ...any) (*stock.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]stock.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []stock.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (stock.Snapshot, error) {
	var (
		snap   stock.Snapshot
		item   string
		at     dbTime
		reason string
	)
	if err := row.Scan(&snap.ID, &item, &at, &snap.Levels.Store1, &snap.Levels.Store2, &reason); err != nil {
		return stock.Snapshot{}, err
	}
	snap.Item = stock.ItemID(item)
	snap.At = at.Time
	snap.Reason = stock.SnapshotReason(reason)
	return snap, nil
}

// =============================================================================
// RECONCILIATION RUNS (stock.RunLog)
// =============================================================================

// SaveRun appends a reconciliation outcome.
func (s *Store) SaveRun(ctx context.Context, run stock.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, item_id, window_start, window_end, valid, discrepancy1, discrepancy2, issues, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Item), formatTime(run.Window.Start), formatTime(run.Window.End), run.Valid,
		run.Discrepancy.Store1, run.Discrepancy.Store2, run.Issues, formatTime(run.RanAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// Runs returns the newest runs of item first.
func (s *Store) Runs(ctx context.Context, item stock.ItemID, limit int) ([]stock.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, item_id, window_start, window_end, valid, discrepancy1, discrepancy2, issues, ran_at
		FROM reconciliation_runs
		WHERE item_id = ?
		ORDER BY ran_at DESC, id DESC`
	args := []any{string(item)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var out []stock.Run
	for rows.Next() {
		var (
			run               stock.Run
			itemID            string
			start, end, ranAt dbTime
		)
		if err := rows.Scan(&run.ID, &itemID, &start, &end, &run.Valid,
			&run.Discrepancy.Store1, &run.Discrepancy.Store2, &run.Issues, &ranAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		run.Item = stock.ItemID(itemID)
		run.Window = stock.Window{Start: start.Time, End: end.Time}
		run.RanAt = ranAt.Time
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// dbTime scans either the text layout (SQLite) or a driver time.Time (MySQL parseTime=true).
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}
