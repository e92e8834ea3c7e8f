package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS order_records (
    id TEXT PRIMARY KEY,
    ts INTEGER NOT NULL,
    environment TEXT NOT NULL DEFAULT '',
    exchange TEXT NOT NULL,
    order_id TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    params TEXT,
    response TEXT,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_order_records_ts ON order_records(ts);

CREATE TABLE IF NOT EXISTS active_positions (
    symbol TEXT PRIMARY KEY,
    side TEXT NOT NULL,
    size REAL NOT NULL,
    entry_price REAL NOT NULL,
    stop_loss REAL NOT NULL DEFAULT 0,
    stop_order_id TEXT NOT NULL DEFAULT '',
    entry_order_id TEXT NOT NULL DEFAULT '',
    exchange TEXT NOT NULL,
    entry_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS env_switches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    from_env TEXT NOT NULL,
    to_env TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    drained INTEGER NOT NULL DEFAULT 1
);
`

// ApplyMigrations creates the schema and upgrades older files in place.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "order_records", "failover", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "active_positions", "take_profit", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
