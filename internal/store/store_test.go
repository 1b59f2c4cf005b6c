package store

import (
	"context"
	"path/filepath"
	"testing"

	"ibgate/internal/domain"
)

func TestSQLiteJournalRecordAndList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLiteJournal(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	rec := domain.OrderRecord{
		OrderID:    12,
		Contract:   domain.Contract{Symbol: "AAPL", SecType: "STK"},
		Action:     domain.ActionBuy,
		Quantity:   100,
		OrderType:  "LMT",
		TIF:        "DAY",
		LimitPrice: 185.5,
		Status:     "Submitted",
	}
	if err := j.RecordOrder(ctx, rec); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}
	if err := j.RecordCancel(ctx, 12, "Cancelled"); err != nil {
		t.Fatalf("RecordCancel: %v", err)
	}

	entries, err := j.ListEntries(ctx, 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Event != "cancelled" || entries[0].OrderID != 12 {
		t.Errorf("first entry = %+v, want the cancel", entries[0])
	}
	placed := entries[1]
	if placed.Event != "placed" || placed.Symbol != "AAPL" || placed.Action != "BUY" ||
		placed.Quantity != 100 || placed.OrderType != "LMT" || placed.LimitPrice != 185.5 {
		t.Errorf("placed entry = %+v", placed)
	}
	if placed.Time.IsZero() {
		t.Error("placed entry has zero time")
	}
}

func TestSQLiteJournalListLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLiteJournal(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.RecordCancel(ctx, int64(i), "Cancelled"); err != nil {
			t.Fatalf("RecordCancel: %v", err)
		}
	}

	entries, err := j.ListEntries(ctx, 3)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries with limit 3, want 3", len(entries))
	}
	if entries[0].OrderID != 4 {
		t.Errorf("newest entry orderID = %d, want 4", entries[0].OrderID)
	}
}

func TestParquetExporterPath(t *testing.T) {
	e := NewParquetExporter("/data")
	got := e.barPath("aapl", "1 day")
	want := filepath.Join("/data", "bars", "AAPL", "1_day.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetExporterWriteAndMerge(t *testing.T) {
	dir := t.TempDir()
	e := NewParquetExporter(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{Date: "20240102", Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 50000000, WAP: 185.25, BarCount: 1000},
		{Date: "20240103", Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 45000000, WAP: 185.75, BarCount: 900},
	}
	path, err := e.ExportBars(ctx, "AAPL", "1 day", bars1)
	if err != nil {
		t.Fatalf("ExportBars (first): %v", err)
	}

	// Overlapping second export: one repeated date (updated close), one new.
	bars2 := []domain.Bar{
		{Date: "20240103", Open: 185.5, High: 187.0, Low: 185.0, Close: 186.2, Volume: 46000000},
		{Date: "20240104", Open: 186.0, High: 188.0, Low: 185.5, Close: 187.5, Volume: 40000000},
	}
	if _, err := e.ExportBars(ctx, "AAPL", "1 day", bars2); err != nil {
		t.Fatalf("ExportBars (second): %v", err)
	}

	rows, err := readParquetFile[BarRow](path)
	if err != nil {
		t.Fatalf("reading back %s: %v", path, err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows after merge, want 3", len(rows))
	}
	if rows[0].Date != "20240102" || rows[2].Date != "20240104" {
		t.Errorf("rows not sorted by date: %v", rows)
	}
	if rows[1].Close != 186.2 {
		t.Errorf("repeated date close = %v, want the newer 186.2", rows[1].Close)
	}
}

func TestParquetExporterRejectsEmpty(t *testing.T) {
	e := NewParquetExporter(t.TempDir())
	if _, err := e.ExportBars(context.Background(), "AAPL", "1 day", nil); err == nil {
		t.Fatal("ExportBars with no bars succeeded, want error")
	}
}
