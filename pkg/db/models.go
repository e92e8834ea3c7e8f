package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OrderRecord is one row of the order audit trail. Params and Response
// hold JSON documents.
type OrderRecord struct {
	ID          string
	Timestamp   time.Time
	Environment string
	Exchange    string
	OrderID     string
	Type        string
	Status      string
	Failover    bool
	Params      string
	Response    string
	Error       string
}

// ActivePosition mirrors the router's open position for a symbol.
type ActivePosition struct {
	Symbol       string
	Side         string
	Size         float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	StopOrderID  string
	EntryOrderID string
	Exchange     string
	EntryTime    time.Time
}

// EnvSwitch records one environment change.
type EnvSwitch struct {
	ID        int64
	Timestamp time.Time
	From      string
	To        string
	Reason    string
	Drained   bool
}

// InsertOrderRecord appends an audit row.
func (d *Database) InsertOrderRecord(ctx context.Context, r OrderRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO order_records (id, ts, environment, exchange, order_id, type, status, failover, params, response, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, toMillis(r.Timestamp), r.Environment, r.Exchange, r.OrderID, r.Type, r.Status, r.Failover, r.Params, r.Response, r.Error)
	if err != nil {
		return fmt.Errorf("insert order record: %w", err)
	}
	return nil
}

// ListOrderRecords returns the newest records first, at most limit rows
// (all rows when limit <= 0).
func (d *Database) ListOrderRecords(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, environment, exchange, order_id, type, status, failover,
		       COALESCE(params, ''), COALESCE(response, ''), error
		FROM order_records
		ORDER BY ts DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query order records: %w", err)
	}
	defer rows.Close()

	var res []OrderRecord
	for rows.Next() {
		var (
			r  OrderRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &ts, &r.Environment, &r.Exchange, &r.OrderID, &r.Type, &r.Status, &r.Failover, &r.Params, &r.Response, &r.Error); err != nil {
			return nil, fmt.Errorf("scan order record: %w", err)
		}
		r.Timestamp = fromMillis(ts)
		res = append(res, r)
	}
	return res, rows.Err()
}

// CountOrderRecords returns the audit trail length.
func (d *Database) CountOrderRecords(ctx context.Context) (int, error) {
	var n int
	if err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count order records: %w", err)
	}
	return n, nil
}

// UpsertActivePosition stores the open position for a symbol.
func (d *Database) UpsertActivePosition(ctx context.Context, p ActivePosition) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO active_positions (symbol, side, size, entry_price, stop_loss, take_profit, stop_order_id, entry_order_id, exchange, entry_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			size = excluded.size,
			entry_price = excluded.entry_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			stop_order_id = excluded.stop_order_id,
			entry_order_id = excluded.entry_order_id,
			exchange = excluded.exchange,
			entry_time = excluded.entry_time
	`, p.Symbol, p.Side, p.Size, p.EntryPrice, p.StopLoss, p.TakeProfit, p.StopOrderID, p.EntryOrderID, p.Exchange, toMillis(p.EntryTime))
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// DeleteActivePosition removes a symbol's position; deleting a flat symbol is a no-op.
func (d *Database) DeleteActivePosition(ctx context.Context, symbol string) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM active_positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}

// GetActivePosition returns ErrNotFound when the symbol is flat.
func (d *Database) GetActivePosition(ctx context.Context, symbol string) (ActivePosition, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT symbol, side, size, entry_price, stop_loss, take_profit, stop_order_id, entry_order_id, exchange, entry_time
		FROM active_positions WHERE symbol = ?`, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivePosition{}, ErrNotFound
	}
	return p, err
}

// ListActivePositions returns every open position ordered by symbol.
func (d *Database) ListActivePositions(ctx context.Context) ([]ActivePosition, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, side, size, entry_price, stop_loss, take_profit, stop_order_id, entry_order_id, exchange, entry_time
		FROM active_positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []ActivePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (ActivePosition, error) {
	var (
		p  ActivePosition
		ts int64
	)
	if err := s.Scan(&p.Symbol, &p.Side, &p.Size, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.StopOrderID, &p.EntryOrderID, &p.Exchange, &ts); err != nil {
		return ActivePosition{}, err
	}
	p.EntryTime = fromMillis(ts)
	return p, nil
}

// InsertEnvSwitch records an environment change and returns its row id.
func (d *Database) InsertEnvSwitch(ctx context.Context, s EnvSwitch) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO env_switches (ts, from_env, to_env, reason, drained)
		VALUES (?, ?, ?, ?, ?)
	`, toMillis(s.Timestamp), s.From, s.To, s.Reason, s.Drained)
	if err != nil {
		return 0, fmt.Errorf("insert env switch: %w", err)
	}
	return res.LastInsertId()
}

// ListEnvSwitches returns switches oldest first.
func (d *Database) ListEnvSwitches(ctx context.Context) ([]EnvSwitch, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, from_env, to_env, reason, drained
		FROM env_switches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query env switches: %w", err)
	}
	defer rows.Close()

	var res []EnvSwitch
	for rows.Next() {
		var (
			s  EnvSwitch
			ts int64
		)
		if err := rows.Scan(&s.ID, &ts, &s.From, &s.To, &s.Reason, &s.Drained); err != nil {
			return nil, fmt.Errorf("scan env switch: %w", err)
		}
		s.Timestamp = fromMillis(ts)
		res = append(res, s)
	}
	return res, rows.Err()
}
