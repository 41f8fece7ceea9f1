/*
Package sqlite provides a SQLite-backed stock record store.

PURPOSE:
  Opens a SQLite database, applies the schema and returns the shared
  sqldb.Store. Used by the demo server and by tests (":memory:").

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

IN-MEMORY DATABASES:
  Every connection to ":memory:" is a separate database, so the pool is
  pinned to a single connection.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/sqldb: queries shared with MySQL
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/stockledger/store/sqldb"
)

// Schema is the SQLite DDL.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		trade_type TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		store_no INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		bill_code TEXT NOT NULL DEFAULT '',
		customer TEXT NOT NULL DEFAULT '',
		comments TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_occurred_at ON trades(occurred_at)`,

	`CREATE TABLE IF NOT EXISTS trade_lines (
		trade_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (trade_id, line_no)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_lines_item ON trade_lines(item_id, trade_id)`,

	`CREATE TABLE IF NOT EXISTS stock_operations (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		store_no INTEGER NOT NULL,
		to_store_no INTEGER NOT NULL DEFAULT 0,
		wastage TEXT NOT NULL DEFAULT '0',
		surplus TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		lorry TEXT NOT NULL DEFAULT '',
		destination TEXT NOT NULL DEFAULT '',
		comments TEXT NOT NULL DEFAULT '',
		conv_from_item TEXT,
		conv_to_item TEXT,
		conv_from_qty TEXT,
		conv_to_qty TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_occurred_at ON stock_operations(occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_conv_to_item ON stock_operations(conv_to_item) WHERE conv_to_item IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS operation_lines (
		operation_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (operation_id, line_no)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operation_lines_item ON operation_lines(item_id, operation_id)`,

	`CREATE TABLE IF NOT EXISTS stock_snapshots (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		store1 TEXT NOT NULL,
		store2 TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_item_taken_at ON stock_snapshots(item_id, taken_at)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		valid BOOLEAN NOT NULL,
		discrepancy1 TEXT NOT NULL,
		discrepancy2 TEXT NOT NULL,
		issues INTEGER NOT NULL DEFAULT 0,
		ran_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_item ON reconciliation_runs(item_id, ran_at)`,
}

// Dialect returns the SQLite dialect for sqldb.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{Name: "sqlite", Schema: Schema}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqldb.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := sqldb.New(db, Dialect())
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}
