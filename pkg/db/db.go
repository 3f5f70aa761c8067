// Package db persists the trading journal to SQLite: orders, fills,
// positions, reconciliation discrepancies and P&L snapshots.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Journal wraps the SQL handle.
type Journal struct {
	DB *sql.DB
}

// Open opens (and creates if needed) the SQLite journal at path and
// applies the schema.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("db: journal path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create directory: %w", err)
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	handle.SetMaxOpenConns(1) // SQLite prefers single writer.
	handle.SetConnMaxLifetime(time.Hour)

	j := &Journal{DB: handle}
	if err := j.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the underlying handle.
func (j *Journal) Close() error {
	if j == nil || j.DB == nil {
		return nil
	}
	return j.DB.Close()
}

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    broker_order_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    limit_price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    filled_qty INTEGER DEFAULT 0,
    avg_fill_price REAL DEFAULT 0,
    reason TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fills (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    broker_order_id TEXT,
    symbol TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price REAL NOT NULL,
    commission REAL DEFAULT 0,
    filled_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    quantity INTEGER NOT NULL,
    avg_entry_price REAL NOT NULL,
    realized_pnl REAL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS discrepancies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    type TEXT NOT NULL,
    local_qty INTEGER NOT NULL,
    broker_qty INTEGER NOT NULL,
    action TEXT,
    found_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pnl_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    realized REAL NOT NULL,
    unrealized REAL NOT NULL,
    equity REAL NOT NULL,
    daily_pnl REAL NOT NULL,
    drawdown_pct REAL NOT NULL,
    taken_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_discrepancies_symbol ON discrepancies(symbol);
`

func (j *Journal) migrate() error {
	if _, err := j.DB.Exec(schema); err != nil {
		return fmt.Errorf("db: apply schema: %w", err)
	}
	return nil
}
