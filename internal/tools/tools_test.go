package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"ibgate/internal/config"
	"ibgate/internal/conn"
	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
	"ibgate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService builds a Service over a simulator-backed manager. seed
// runs against every simulator the manager dials, mutate against the
// default config before wiring.
func newTestService(t *testing.T, seed func(*ibgw.Simulator), mutate func(*config.Config)) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.Connection.ReconnectDelay = 10 * time.Millisecond
	cfg.Connection.ConnectTimeout = 2 * time.Second
	cfg.Connection.OrderIDTimeout = 2 * time.Second
	cfg.Connection.RequestTimeout = 2 * time.Second
	cfg.Connection.HealthWait = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	dial := func(e ibgw.Events) ibgw.Gateway {
		sim := ibgw.NewSimulator(e)
		if seed != nil {
			seed(sim)
		}
		return sim
	}
	mgr := conn.NewManager(cfg, dial, testLogger())
	t.Cleanup(mgr.Disconnect)

	journal, err := store.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	exporter := store.NewParquetExporter(t.TempDir())
	return NewService(cfg, mgr, journal, exporter, testLogger())
}

func newRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultText returns the text payload, failing the test if the result is
// a tool error.
func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool result content is %T, want TextContent", res.Content[0])
	}
	if res.IsError {
		t.Fatalf("tool returned error: %s", tc.Text)
	}
	return tc.Text
}

// errorText returns the error payload, failing the test if the result is
// not a tool error.
func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if !res.IsError {
		t.Fatal("tool result is not an error")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool result content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func decodeInto(t *testing.T, text string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decoding tool result: %v\n%s", err, text)
	}
}

func TestGetPositionsTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedPosition(domain.Position{
			Account:  "DU0000001",
			Contract: domain.Contract{Symbol: "AAPL", SecType: "STK", Currency: "USD"},
			Quantity: 100,
			AvgCost:  180.5,
		})
	}, nil)

	res, err := svc.handleGetPositions(context.Background(), newRequest("get_positions", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var positions []domain.Position
	decodeInto(t, resultText(t, res), &positions)
	if len(positions) != 1 || positions[0].Contract.Symbol != "AAPL" || positions[0].Quantity != 100 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestGetPositionsToolAccountFilter(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedPosition(domain.Position{Account: "DU0000001", Contract: domain.Contract{Symbol: "AAPL", SecType: "STK"}, Quantity: 100})
	}, nil)

	res, err := svc.handleGetPositions(context.Background(),
		newRequest("get_positions", map[string]any{"account": "DU9999999"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var positions []domain.Position
	decodeInto(t, resultText(t, res), &positions)
	if len(positions) != 0 {
		t.Errorf("got %d positions for an unknown account, want 0", len(positions))
	}
}

func TestGetAccountSummaryTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedAccountValue(domain.AccountValue{Account: "DU0000001", Tag: "NetLiquidation", Value: "100000.00", Currency: "USD"})
		sim.SeedAccountValue(domain.AccountValue{Account: "DU0000001", Tag: "BuyingPower", Value: "400000.00", Currency: "USD"})
	}, nil)

	res, err := svc.handleGetAccountSummary(context.Background(), newRequest("get_account_summary", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var values []domain.AccountValue
	decodeInto(t, resultText(t, res), &values)
	if len(values) != 2 {
		t.Fatalf("got %d account values, want 2", len(values))
	}
}

func TestGetPortfolioTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedPosition(domain.Position{Account: "DU0000001", Contract: domain.Contract{Symbol: "AAPL", SecType: "STK"}, Quantity: 100})
		sim.SeedAccountValue(domain.AccountValue{Account: "DU0000001", Tag: "NetLiquidation", Value: "100000.00", Currency: "USD"})
	}, nil)

	res, err := svc.handleGetPortfolio(context.Background(), newRequest("get_portfolio", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var portfolio struct {
		Account   string                `json:"account"`
		Positions []domain.Position     `json:"positions"`
		Values    []domain.AccountValue `json:"accountValues"`
	}
	decodeInto(t, resultText(t, res), &portfolio)
	if portfolio.Account != "DU0000001" {
		t.Errorf("account = %q, want DU0000001", portfolio.Account)
	}
	if len(portfolio.Positions) != 1 || len(portfolio.Values) != 1 {
		t.Errorf("portfolio = %+v", portfolio)
	}
}

func TestGetHistoricalDataTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedBars("AAPL", []domain.Bar{
			{Date: "20240102", Open: 185.0, Close: 185.5, Volume: 50000000},
			{Date: "20240103", Open: 185.5, Close: 186.0, Volume: 45000000},
		})
	}, nil)

	res, err := svc.handleGetHistoricalData(context.Background(),
		newRequest("get_historical_data", map[string]any{"symbol": "AAPL", "duration": "2 D"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var bars []domain.Bar
	decodeInto(t, resultText(t, res), &bars)
	if len(bars) != 2 || bars[0].Date != "20240102" {
		t.Errorf("bars = %+v", bars)
	}
}

func TestGetHistoricalDataToolRequiresSymbol(t *testing.T) {
	svc := newTestService(t, nil, nil)
	res, err := svc.handleGetHistoricalData(context.Background(), newRequest("get_historical_data", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	errorText(t, res)
}

func TestGetMarketDataTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("AAPL", 185.0)
	}, nil)

	res, err := svc.handleGetMarketData(context.Background(),
		newRequest("get_market_data", map[string]any{"symbol": "AAPL"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var snap domain.TickSnapshot
	decodeInto(t, resultText(t, res), &snap)
	if snap.Last != 185.0 || snap.Symbol != "AAPL" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetContractDetailsTool(t *testing.T) {
	svc := newTestService(t, nil, nil)

	res, err := svc.handleGetContractDetails(context.Background(),
		newRequest("get_contract_details", map[string]any{"symbol": "AAPL"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var details []domain.ContractInfo
	decodeInto(t, resultText(t, res), &details)
	if len(details) != 1 || details[0].Contract.Symbol != "AAPL" {
		t.Errorf("details = %+v", details)
	}
	if details[0].Contract.ConID == 0 {
		t.Error("contract details missing conId")
	}
}

func TestGetOptionChainTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedOptionChain("AAPL", []domain.OptionChain{{
			Exchange:     "SMART",
			TradingClass: "AAPL",
			Multiplier:   "100",
			Expirations:  []string{"20240119", "20240216"},
			Strikes:      []float64{180, 185, 190},
		}})
	}, nil)

	res, err := svc.handleGetOptionChain(context.Background(),
		newRequest("get_option_chain", map[string]any{"symbol": "AAPL"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var chains []domain.OptionChain
	decodeInto(t, resultText(t, res), &chains)
	if len(chains) != 1 || len(chains[0].Strikes) != 3 {
		t.Errorf("chains = %+v", chains)
	}
}

func TestExportHistoricalDataTool(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedBars("AAPL", []domain.Bar{{Date: "20240102", Close: 185.5}})
	}, nil)

	res, err := svc.handleExportHistoricalData(context.Background(),
		newRequest("export_historical_data", map[string]any{"symbol": "AAPL"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var out struct {
		Path string `json:"path"`
		Bars int    `json:"bars"`
	}
	decodeInto(t, resultText(t, res), &out)
	if out.Bars != 1 {
		t.Errorf("exported %d bars, want 1", out.Bars)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("exported file missing: %v", err)
	}
}

func TestPlaceOrderToolFillsAndJournals(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("AAPL", 185.0)
	}, nil)

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol":     "AAPL",
		"action":     "BUY",
		"quantity":   100.0,
		"order_type": "MKT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var rec domain.OrderRecord
	decodeInto(t, resultText(t, res), &rec)
	if rec.Status != "Filled" || rec.AvgFillPrice != 185.0 {
		t.Errorf("order = %+v", rec)
	}

	entries, err := svc.journal.ListEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "placed" || entries[0].Symbol != "AAPL" {
		t.Errorf("journal = %+v", entries)
	}
}

func TestPlaceOrderToolReadOnly(t *testing.T) {
	svc := newTestService(t, nil, func(cfg *config.Config) {
		cfg.IBKR.ReadOnly = true
	})

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "BUY", "quantity": 100.0, "order_type": "MKT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "read-only") {
		t.Errorf("error = %q, want read-only refusal", msg)
	}
}

func TestPlaceOrderToolRejectsDisallowedType(t *testing.T) {
	svc := newTestService(t, nil, nil) // defaults allow only LMT and MKT

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "BUY", "quantity": 100.0, "order_type": "STP", "stop_price": 180.0,
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "not allowed") {
		t.Errorf("error = %q, want order-type refusal", msg)
	}
}

func TestPlaceOrderToolRejectsDisallowedTIF(t *testing.T) {
	svc := newTestService(t, nil, nil) // defaults allow only DAY and GTC

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "BUY", "quantity": 100.0, "order_type": "MKT", "tif": "IOC",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "not allowed") {
		t.Errorf("error = %q, want TIF refusal", msg)
	}
}

func TestPlaceOrderToolRequiresLimitPrice(t *testing.T) {
	svc := newTestService(t, nil, nil)

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "BUY", "quantity": 100.0, "order_type": "LMT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "limit_price") {
		t.Errorf("error = %q, want limit_price requirement", msg)
	}
}

func TestPlaceOrderToolRejectsInvalidAction(t *testing.T) {
	svc := newTestService(t, nil, nil)

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "HOLD", "quantity": 100.0, "order_type": "MKT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "BUY or SELL") {
		t.Errorf("error = %q, want action refusal", msg)
	}
}

func TestPlaceOrderToolShortSellingBlocked(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("AAPL", 185.0)
	}, func(cfg *config.Config) {
		cfg.IBKR.AllowShortSelling = false
	})

	// No position held: selling would open a short.
	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "SELL", "quantity": 50.0, "order_type": "MKT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "short selling") {
		t.Errorf("error = %q, want short-selling refusal", msg)
	}
}

func TestPlaceOrderToolSellWithinHolding(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("AAPL", 185.0)
		sim.SeedPosition(domain.Position{
			Account:  "DU0000001",
			Contract: domain.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"},
			Quantity: 100,
		})
	}, func(cfg *config.Config) {
		cfg.IBKR.AllowShortSelling = false
	})

	res, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "AAPL", "action": "SELL", "quantity": 50.0, "order_type": "MKT",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var rec domain.OrderRecord
	decodeInto(t, resultText(t, res), &rec)
	if rec.Status != "Filled" {
		t.Errorf("sell within holding rejected: %+v", rec)
	}
}

func TestCancelOrderToolJournals(t *testing.T) {
	svc := newTestService(t, nil, nil)

	res, err := svc.handleCancelOrder(context.Background(),
		newRequest("cancel_order", map[string]any{"order_id": 42.0}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var rec domain.OrderRecord
	decodeInto(t, resultText(t, res), &rec)
	if rec.Status != "Cancelled" {
		t.Errorf("status = %q, want Cancelled", rec.Status)
	}

	entries, err := svc.journal.ListEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "cancelled" || entries[0].OrderID != 42 {
		t.Errorf("journal = %+v", entries)
	}
}

func TestGetOrdersAndTradesTools(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("MSFT", 410.0)
	}, nil)

	if _, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "MSFT", "action": "BUY", "quantity": 10.0, "order_type": "MKT",
	})); err != nil {
		t.Fatalf("place_order: %v", err)
	}

	res, err := svc.handleGetOrders(context.Background(), newRequest("get_orders", nil))
	if err != nil {
		t.Fatalf("get_orders: %v", err)
	}
	var orders []domain.OrderRecord
	decodeInto(t, resultText(t, res), &orders)
	if len(orders) != 1 || orders[0].Contract.Symbol != "MSFT" {
		t.Errorf("orders = %+v", orders)
	}

	res, err = svc.handleGetTrades(context.Background(), newRequest("get_trades", nil))
	if err != nil {
		t.Fatalf("get_trades: %v", err)
	}
	var execs []domain.ExecutionRecord
	decodeInto(t, resultText(t, res), &execs)
	if len(execs) != 1 || !execs[0].HasCommission {
		t.Errorf("executions = %+v", execs)
	}
}

func TestGetOrdersToolStatusFilter(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedLastPrice("MSFT", 410.0)
	}, nil)

	if _, err := svc.handlePlaceOrder(context.Background(), newRequest("place_order", map[string]any{
		"symbol": "MSFT", "action": "BUY", "quantity": 10.0, "order_type": "MKT",
	})); err != nil {
		t.Fatalf("place_order: %v", err)
	}

	// The market order fills immediately, so it matches "filled" and "all"
	// but not "open" or "cancelled".
	for filter, want := range map[string]int{"all": 1, "filled": 1, "open": 0, "cancelled": 0} {
		res, err := svc.handleGetOrders(context.Background(),
			newRequest("get_orders", map[string]any{"status": filter}))
		if err != nil {
			t.Fatalf("get_orders(%s): %v", filter, err)
		}
		var orders []domain.OrderRecord
		decodeInto(t, resultText(t, res), &orders)
		if len(orders) != want {
			t.Errorf("status=%s returned %d orders, want %d", filter, len(orders), want)
		}
	}

	res, err := svc.handleGetOrders(context.Background(),
		newRequest("get_orders", map[string]any{"status": "bogus"}))
	if err != nil {
		t.Fatalf("get_orders(bogus): %v", err)
	}
	if msg := errorText(t, res); !strings.Contains(msg, "invalid status") {
		t.Errorf("error = %q, want invalid-status refusal", msg)
	}
}

func TestGetAccountSummaryToolTagsFilter(t *testing.T) {
	svc := newTestService(t, func(sim *ibgw.Simulator) {
		sim.SeedAccountValue(domain.AccountValue{Account: "DU0000001", Tag: "NetLiquidation", Value: "100000.00", Currency: "USD"})
		sim.SeedAccountValue(domain.AccountValue{Account: "DU0000001", Tag: "BuyingPower", Value: "400000.00", Currency: "USD"})
	}, nil)

	res, err := svc.handleGetAccountSummary(context.Background(),
		newRequest("get_account_summary", map[string]any{"tags": "NetLiquidation, GrossPositionValue"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var values []domain.AccountValue
	decodeInto(t, resultText(t, res), &values)
	if len(values) != 1 || values[0].Tag != "NetLiquidation" {
		t.Errorf("filtered values = %+v, want only NetLiquidation", values)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	svc := newTestService(t, nil, nil)
	if srv := NewServer(svc); srv == nil {
		t.Fatal("NewServer returned nil")
	}
}
