// Package store persists what the server does: an append-only order
// journal in SQLite and Parquet exports of historical bar data.
package store

import (
	"context"
	"time"

	"ibgate/internal/domain"
)

// JournalEntry is one row of the order journal. The journal records what
// the server submitted, not broker state; TWS remains the source of truth
// for order status.
type JournalEntry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	Event      string    `json:"event"` // "placed" or "cancelled"
	OrderID    int64     `json:"orderId"`
	Symbol     string    `json:"symbol"`
	SecType    string    `json:"secType"`
	Action     string    `json:"action"`
	Quantity   float64   `json:"quantity"`
	OrderType  string    `json:"orderType"`
	TIF        string    `json:"tif"`
	LimitPrice float64   `json:"limitPrice,omitempty"`
	StopPrice  float64   `json:"stopPrice,omitempty"`
	Status     string    `json:"status"`
}

// OrderJournal records order submissions and cancellations.
type OrderJournal interface {
	// RecordOrder appends a "placed" entry for a submitted order.
	RecordOrder(ctx context.Context, rec domain.OrderRecord) error

	// RecordCancel appends a "cancelled" entry for an order.
	RecordCancel(ctx context.Context, orderID int64, status string) error

	// ListEntries returns the most recent journal entries, newest first,
	// up to limit.
	ListEntries(ctx context.Context, limit int) ([]JournalEntry, error)

	Close() error
}

// BarExporter writes historical bar data to files on disk.
type BarExporter interface {
	// ExportBars writes bars for one instrument and returns the path of
	// the file written.
	ExportBars(ctx context.Context, symbol, barSize string, bars []domain.Bar) (string, error)
}
