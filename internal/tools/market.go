package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ibgate/internal/bridge"
	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
)

func (s *Service) registerMarketTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("get_historical_data",
		mcp.WithDescription("Get historical OHLCV bars for an instrument."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol, e.g. AAPL.")),
		mcp.WithString("duration", mcp.Description("Lookback window, e.g. '1 D', '5 D', '1 M', '1 Y'. Default '1 D'.")),
		mcp.WithString("bar_size", mcp.Description("Bar size, e.g. '1 min', '5 mins', '1 hour', '1 day'. Default '1 day'.")),
		mcp.WithString("what_to_show", mcp.Description("TRADES, MIDPOINT, BID or ASK. Default TRADES.")),
		mcp.WithBoolean("use_rth", mcp.Description("Regular trading hours only. Default true.")),
		mcp.WithString("end_datetime", mcp.Description("End of the window, 'yyyymmdd hh:mm:ss tz'. Empty = now.")),
		mcp.WithString("sec_type", mcp.Description("Security type. Default STK.")),
		mcp.WithString("exchange", mcp.Description("Exchange. Default SMART.")),
		mcp.WithString("currency", mcp.Description("Currency. Default USD.")),
	), s.handleGetHistoricalData)

	srv.AddTool(mcp.NewTool("get_market_data",
		mcp.WithDescription("Get a real-time market data snapshot (bid/ask/last/volume)."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol.")),
		mcp.WithString("sec_type", mcp.Description("Security type. Default STK.")),
		mcp.WithString("exchange", mcp.Description("Exchange. Default SMART.")),
		mcp.WithString("currency", mcp.Description("Currency. Default USD.")),
	), s.handleGetMarketData)

	srv.AddTool(mcp.NewTool("get_contract_details",
		mcp.WithDescription("Look up full contract details for an instrument."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol.")),
		mcp.WithString("sec_type", mcp.Description("Security type. Default STK.")),
		mcp.WithString("exchange", mcp.Description("Exchange. Default SMART.")),
		mcp.WithString("currency", mcp.Description("Currency. Default USD.")),
	), s.handleGetContractDetails)

	srv.AddTool(mcp.NewTool("get_option_chain",
		mcp.WithDescription("Get option chain parameters (expirations and strikes) for an underlying."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Underlying ticker symbol.")),
		mcp.WithString("exchange", mcp.Description("Restrict to one options exchange. Empty = all.")),
	), s.handleGetOptionChain)

	srv.AddTool(mcp.NewTool("export_historical_data",
		mcp.WithDescription("Fetch historical bars and export them to a Parquet file; returns the file path."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol.")),
		mcp.WithString("duration", mcp.Description("Lookback window. Default '1 Y'.")),
		mcp.WithString("bar_size", mcp.Description("Bar size. Default '1 day'.")),
		mcp.WithString("what_to_show", mcp.Description("TRADES, MIDPOINT, BID or ASK. Default TRADES.")),
		mcp.WithBoolean("use_rth", mcp.Description("Regular trading hours only. Default true.")),
	), s.handleExportHistoricalData)
}

// contractFromArgs builds a Contract from the common tool arguments with
// the usual stock defaults.
func contractFromArgs(req mcp.CallToolRequest, symbol string) domain.Contract {
	return domain.Contract{
		Symbol:   symbol,
		SecType:  req.GetString("sec_type", "STK"),
		Exchange: req.GetString("exchange", "SMART"),
		Currency: req.GetString("currency", "USD"),
	}
}

func historicalQueryFromArgs(req mcp.CallToolRequest, defaultDuration string) ibgw.HistoricalQuery {
	return ibgw.HistoricalQuery{
		EndDateTime: req.GetString("end_datetime", ""),
		Duration:    req.GetString("duration", defaultDuration),
		BarSize:     req.GetString("bar_size", "1 day"),
		WhatToShow:  req.GetString("what_to_show", "TRADES"),
		UseRTH:      req.GetBool("use_rth", true),
	}
}

func (s *Service) handleGetHistoricalData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	bars, err := br.RequestHistoricalData(ctx, contractFromArgs(req, symbol), historicalQueryFromArgs(req, "1 D"), s.cfg.Connection.RequestTimeout)
	return partialOrError(bars, err)
}

func (s *Service) handleGetMarketData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := br.RequestMarketSnapshot(ctx, contractFromArgs(req, symbol), s.cfg.Connection.RequestTimeout)
	if err != nil && !errors.Is(err, bridge.ErrTimedOut) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(snap)
}

func (s *Service) handleGetContractDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	details, err := br.RequestContractDetails(ctx, contractFromArgs(req, symbol), s.cfg.Connection.RequestTimeout)
	return partialOrError(details, err)
}

func (s *Service) handleGetOptionChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := s.cfg.Connection.RequestTimeout

	// The chain request needs the underlying's contract id, so resolve the
	// contract first.
	underlying := domain.Contract{Symbol: symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"}
	details, err := br.RequestContractDetails(ctx, underlying, timeout)
	if err != nil && !errors.Is(err, bridge.ErrTimedOut) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(details) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no contract found for %s", symbol)), nil
	}
	conID := details[0].Contract.ConID

	chains, err := br.RequestOptionChains(ctx, symbol, "STK", conID, req.GetString("exchange", ""), timeout)
	return partialOrError(chains, err)
}

func (s *Service) handleExportHistoricalData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.exporter == nil {
		return mcp.NewToolResultError("bar export is not configured"), nil
	}
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := historicalQueryFromArgs(req, "1 Y")
	bars, err := br.RequestHistoricalData(ctx, contractFromArgs(req, symbol), q, s.cfg.Connection.RequestTimeout)
	if hardFailure(err, len(bars)) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path, err := s.exporter.ExportBars(ctx, symbol, q.BarSize, bars)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		Path string `json:"path"`
		Bars int    `json:"bars"`
	}{Path: path, Bars: len(bars)})
}
