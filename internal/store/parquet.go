package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"ibgate/internal/domain"
)

// Compile-time interface check.
var _ BarExporter = (*ParquetExporter)(nil)

// ParquetExporter implements BarExporter using Parquet files on disk.
type ParquetExporter struct {
	DataDir string
}

// NewParquetExporter creates a ParquetExporter rooted at the given data
// directory.
func NewParquetExporter(dataDir string) *ParquetExporter {
	return &ParquetExporter{DataDir: dataDir}
}

// BarRow is the Parquet schema for exported bar data. Date keeps the TWS
// string form so intraday and daily bars share one schema.
type BarRow struct {
	Symbol   string  `parquet:"symbol"`
	Date     string  `parquet:"date"`
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   int64   `parquet:"volume"`
	WAP      float64 `parquet:"wap"`
	BarCount int64   `parquet:"bar_count"`
}

// ExportBars writes bars for one instrument to a Parquet file at:
//
//	<DataDir>/bars/<SYMBOL>/<bar size>.parquet
//
// Existing rows in the file are merged by date, new bars winning, so
// repeated exports extend history instead of truncating it.
func (e *ParquetExporter) ExportBars(_ context.Context, symbol, barSize string, bars []domain.Bar) (string, error) {
	if len(bars) == 0 {
		return "", fmt.Errorf("no bars to export for %s", symbol)
	}

	rows := make([]BarRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, BarRow{
			Symbol:   strings.ToUpper(symbol),
			Date:     b.Date,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
			WAP:      b.WAP,
			BarCount: b.BarCount,
		})
	}

	path := e.barPath(symbol, barSize)
	existing, _ := readParquetFile[BarRow](path)
	merged := mergeBarRows(existing, rows)

	if err := writeParquetFile(path, merged); err != nil {
		return "", fmt.Errorf("writing bars for %s: %w", symbol, err)
	}
	return path, nil
}

// barPath returns the filesystem path for a bar Parquet file.
func (e *ParquetExporter) barPath(symbol, barSize string) string {
	name := strings.ReplaceAll(barSize, " ", "_") + ".parquet"
	return filepath.Join(e.DataDir, "bars", strings.ToUpper(symbol), name)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRows deduplicates rows by date, preferring incoming over
// existing. Results are sorted by date; the TWS date strings sort
// chronologically within one bar size.
func mergeBarRows(existing, incoming []BarRow) []BarRow {
	seen := make(map[string]BarRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]BarRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
