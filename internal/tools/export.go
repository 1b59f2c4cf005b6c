package tools

import (
	"context"

	"ibgate/internal/config"
	"ibgate/internal/conn"
	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
	"ibgate/internal/store"
)

// ExportBars fetches historical bars and writes them to Parquet, for use
// outside the MCP server (the export command). Returns the file path and
// the number of bars written.
func ExportBars(ctx context.Context, cfg *config.Config, mgr *conn.Manager, exporter store.BarExporter, symbol, duration, barSize string) (string, int, error) {
	br, err := mgr.Bridge()
	if err != nil {
		return "", 0, err
	}

	c := domain.Contract{Symbol: symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"}
	q := ibgw.HistoricalQuery{
		Duration:   duration,
		BarSize:    barSize,
		WhatToShow: "TRADES",
		UseRTH:     true,
	}
	bars, err := br.RequestHistoricalData(ctx, c, q, cfg.Connection.RequestTimeout)
	if hardFailure(err, len(bars)) {
		return "", 0, err
	}

	path, err := exporter.ExportBars(ctx, symbol, barSize, bars)
	if err != nil {
		return "", 0, err
	}
	return path, len(bars), nil
}
