package db

import (
	"fmt"
	"log"
	"time"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/pnl"
	"github.com/aadilkhann/QuantX/internal/reconcile"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// UpsertOrder writes or refreshes an order row.
func (j *Journal) UpsertOrder(o broker.Order) error {
	_, err := j.DB.Exec(`
		INSERT INTO orders (id, broker_order_id, symbol, side, type, quantity,
			limit_price, stop_price, status, filled_qty, avg_fill_price, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			broker_order_id = excluded.broker_order_id,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		o.ID, o.BrokerOrderID, o.Symbol, string(o.Side), string(o.Type), o.Quantity,
		o.LimitPrice, o.StopPrice, string(o.Status), o.FilledQty, o.AvgFillPrice,
		o.Reason, o.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("db: upsert order: %w", err)
	}
	return nil
}

// RecordFill appends a fill row. Replays of the same fill id are ignored.
func (j *Journal) RecordFill(f broker.Fill) error {
	_, err := j.DB.Exec(`
		INSERT OR IGNORE INTO fills (id, order_id, broker_order_id, symbol, quantity, price, commission, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.BrokerOrderID, f.Symbol, f.Quantity, f.Price, f.Commission, f.Timestamp)
	if err != nil {
		return fmt.Errorf("db: record fill: %w", err)
	}
	return nil
}

// UpsertPosition writes the current position row, deleting it when flat.
func (j *Journal) UpsertPosition(p broker.Position) error {
	if p.Quantity == 0 {
		_, err := j.DB.Exec(`DELETE FROM positions WHERE symbol = ?`, p.Symbol)
		if err != nil {
			return fmt.Errorf("db: delete position: %w", err)
		}
		return nil
	}
	_, err := j.DB.Exec(`
		INSERT INTO positions (symbol, quantity, avg_entry_price, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at`,
		p.Symbol, p.Quantity, p.AvgEntryPrice, p.RealizedPnL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db: upsert position: %w", err)
	}
	return nil
}

// RecordDiscrepancy appends a reconciliation discrepancy for audit.
func (j *Journal) RecordDiscrepancy(d reconcile.Discrepancy) error {
	_, err := j.DB.Exec(`
		INSERT INTO discrepancies (symbol, type, local_qty, broker_qty, action, found_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Symbol, string(d.Type), d.LocalQty, d.BrokerQty, d.Action, d.Time)
	if err != nil {
		return fmt.Errorf("db: record discrepancy: %w", err)
	}
	return nil
}

// RecordSnapshot appends a P&L snapshot.
func (j *Journal) RecordSnapshot(s pnl.Snapshot) error {
	_, err := j.DB.Exec(`
		INSERT INTO pnl_snapshots (realized, unrealized, equity, daily_pnl, drawdown_pct, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Realized, s.Unrealized, s.Equity, s.DailyPnL, s.DrawdownPct, s.Time)
	if err != nil {
		return fmt.Errorf("db: record snapshot: %w", err)
	}
	return nil
}

// Orders returns the most recent orders, newest first.
func (j *Journal) Orders(limit int) ([]broker.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.DB.Query(`
		SELECT id, broker_order_id, symbol, side, type, quantity,
			limit_price, stop_price, status, filled_qty, avg_fill_price, reason, created_at
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query orders: %w", err)
	}
	defer rows.Close()

	var out []broker.Order
	for rows.Next() {
		var o broker.Order
		var side, otype, status string
		if err := rows.Scan(&o.ID, &o.BrokerOrderID, &o.Symbol, &side, &otype, &o.Quantity,
			&o.LimitPrice, &o.StopPrice, &status, &o.FilledQty, &o.AvgFillPrice, &o.Reason, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("db: scan order: %w", err)
		}
		o.Side = broker.Side(side)
		o.Type = broker.OrderType(otype)
		o.Status = broker.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Fills returns fills for an order, oldest first.
func (j *Journal) Fills(orderID string) ([]broker.Fill, error) {
	rows, err := j.DB.Query(`
		SELECT id, order_id, broker_order_id, symbol, quantity, price, commission, filled_at
		FROM fills WHERE order_id = ? ORDER BY filled_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("db: query fills: %w", err)
	}
	defer rows.Close()

	var out []broker.Fill
	for rows.Next() {
		var f broker.Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.BrokerOrderID, &f.Symbol,
			&f.Quantity, &f.Price, &f.Commission, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("db: scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Attach subscribes the journal to the bus so every order, fill, position
// and discrepancy is persisted as it happens. Write failures are logged,
// never propagated; the journal must not stall trading.
func (j *Journal) Attach(bus *events.Bus) {
	record := func(fn func() error) {
		if err := fn(); err != nil {
			log.Printf("%v", err)
		}
	}
	orderHandler := func(e events.Event) {
		if o, ok := e.Payload.(broker.Order); ok {
			record(func() error { return j.UpsertOrder(o) })
		}
	}
	bus.Subscribe(events.KindOrderSubmitted, orderHandler)
	bus.Subscribe(events.KindOrderAccepted, orderHandler)
	bus.Subscribe(events.KindOrderRejected, orderHandler)
	bus.Subscribe(events.KindOrderCancelled, orderHandler)
	bus.Subscribe(events.KindFill, func(e events.Event) {
		if f, ok := e.Payload.(broker.Fill); ok {
			record(func() error { return j.RecordFill(f) })
		}
	})
	bus.Subscribe(events.KindPositionUpdated, func(e events.Event) {
		if p, ok := e.Payload.(broker.Position); ok {
			record(func() error { return j.UpsertPosition(p) })
		}
	})
}
