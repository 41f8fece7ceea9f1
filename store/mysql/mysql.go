/*
Package mysql provides a MySQL-backed stock record store.

PURPOSE:
  The production back office keeps its trades, stock operations and
  stock-takes in MySQL. This package opens that database and returns the
  shared sqldb.Store with MySQL DDL.

DSN:
  user:pass@tcp(host:port)/db?parseTime=true&loc=UTC
  parseTime makes DATETIME(6) columns scan as time.Time.

USAGE:
  store, err := mysql.New(ctx, mysql.Config{Host: "localhost", Port: 3306, ...})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/warp/stockledger/store/sqldb"
)

// Config holds connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN builds the driver connection string.
func (c Config) DSN() string {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Schema is the MySQL DDL.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id VARCHAR(64) PRIMARY KEY,
		trade_type VARCHAR(32) NOT NULL,
		occurred_at DATETIME(6) NOT NULL,
		store_no INT NOT NULL,
		active TINYINT(1) NOT NULL DEFAULT 1,
		bill_code VARCHAR(64) NOT NULL DEFAULT '',
		customer VARCHAR(255) NOT NULL DEFAULT '',
		comments TEXT NOT NULL,
		INDEX idx_trades_occurred_at (occurred_at)
	)`,

	`CREATE TABLE IF NOT EXISTS trade_lines (
		trade_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		quantity DECIMAL(18,6) NOT NULL,
		PRIMARY KEY (trade_id, line_no),
		INDEX idx_trade_lines_item (item_id, trade_id)
	)`,

	`CREATE TABLE IF NOT EXISTS stock_operations (
		id VARCHAR(64) PRIMARY KEY,
		code VARCHAR(64) NOT NULL,
		occurred_at DATETIME(6) NOT NULL,
		store_no INT NOT NULL,
		to_store_no INT NOT NULL DEFAULT 0,
		wastage DECIMAL(18,6) NOT NULL DEFAULT 0,
		surplus DECIMAL(18,6) NOT NULL DEFAULT 0,
		active TINYINT(1) NOT NULL DEFAULT 1,
		lorry VARCHAR(64) NOT NULL DEFAULT '',
		destination VARCHAR(255) NOT NULL DEFAULT '',
		comments TEXT NOT NULL,
		conv_from_item VARCHAR(64) NULL,
		conv_to_item VARCHAR(64) NULL,
		conv_from_qty DECIMAL(18,6) NULL,
		conv_to_qty DECIMAL(18,6) NULL,
		INDEX idx_operations_occurred_at (occurred_at),
		INDEX idx_operations_conv_to_item (conv_to_item)
	)`,

	`CREATE TABLE IF NOT EXISTS operation_lines (
		operation_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		quantity DECIMAL(18,6) NOT NULL,
		PRIMARY KEY (operation_id, line_no),
		INDEX idx_operation_lines_item (item_id, operation_id)
	)`,

	`CREATE TABLE IF NOT EXISTS stock_snapshots (
		id VARCHAR(64) PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL,
		taken_at DATETIME(6) NOT NULL,
		store1 DECIMAL(18,6) NOT NULL,
		store2 DECIMAL(18,6) NOT NULL,
		reason VARCHAR(32) NOT NULL DEFAULT '',
		INDEX idx_snapshots_item_taken_at (item_id, taken_at)
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id VARCHAR(64) PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL,
		window_start DATETIME(6) NOT NULL,
		window_end DATETIME(6) NOT NULL,
		valid TINYINT(1) NOT NULL,
		discrepancy1 DECIMAL(18,6) NOT NULL,
		discrepancy2 DECIMAL(18,6) NOT NULL,
		issues INT NOT NULL DEFAULT 0,
		ran_at DATETIME(6) NOT NULL,
		INDEX idx_reconciliation_runs_item (item_id, ran_at)
	)`,
}

// Dialect returns the MySQL dialect for sqldb.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{Name: "mysql", Schema: Schema}
}

// New connects, pings and migrates.
func New(ctx context.Context, cfg Config) (*sqldb.Store, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), err)
	}

	store := sqldb.New(db, Dialect())
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
