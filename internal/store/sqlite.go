package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ibgate/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ OrderJournal = (*SQLiteJournal)(nil)

// SQLiteJournal implements OrderJournal backed by a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS order_journal (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	time        TEXT NOT NULL,
	event       TEXT NOT NULL,
	order_id    INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	sec_type    TEXT NOT NULL,
	action      TEXT NOT NULL,
	quantity    REAL NOT NULL,
	order_type  TEXT NOT NULL,
	tif         TEXT NOT NULL,
	limit_price REAL NOT NULL,
	stop_price  REAL NOT NULL,
	status      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_journal_order_id ON order_journal(order_id);
`

// NewSQLiteJournal opens (or creates) the journal database at dbPath and
// ensures the schema exists.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RecordOrder appends a "placed" entry for a submitted order.
func (j *SQLiteJournal) RecordOrder(ctx context.Context, rec domain.OrderRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_journal
			(time, event, order_id, symbol, sec_type, action, quantity, order_type, tif, limit_price, stop_price, status)
		VALUES (?, 'placed', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		rec.OrderID, rec.Contract.Symbol, rec.Contract.SecType, string(rec.Action),
		rec.Quantity, rec.OrderType, rec.TIF, rec.LimitPrice, rec.StopPrice, rec.Status,
	)
	return err
}

// RecordCancel appends a "cancelled" entry for an order. Only the order id
// and resulting status are known at cancel time.
func (j *SQLiteJournal) RecordCancel(ctx context.Context, orderID int64, status string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_journal
			(time, event, order_id, symbol, sec_type, action, quantity, order_type, tif, limit_price, stop_price, status)
		VALUES (?, 'cancelled', ?, '', '', '', 0, '', '', 0, 0, ?)`,
		time.Now().UTC().Format(time.RFC3339), orderID, status,
	)
	return err
}

// ListEntries returns the most recent journal entries, newest first.
func (j *SQLiteJournal) ListEntries(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, time, event, order_id, symbol, sec_type, action, quantity, order_type, tif, limit_price, stop_price, status
		FROM order_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Event, &e.OrderID, &e.Symbol, &e.SecType, &e.Action,
			&e.Quantity, &e.OrderType, &e.TIF, &e.LimitPrice, &e.StopPrice, &e.Status); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(time.RFC3339, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
