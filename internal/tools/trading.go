package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ibgate/internal/bridge"
	"ibgate/internal/domain"
	"ibgate/internal/ibgw"
)

func (s *Service) registerTradingTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("place_order",
		mcp.WithDescription("Place an order. Subject to the server's read-only, order-type, TIF and short-selling policy."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol.")),
		mcp.WithString("action", mcp.Required(), mcp.Description("BUY or SELL.")),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Number of shares, > 0.")),
		mcp.WithString("order_type", mcp.Description("Order type, e.g. LMT or MKT. Default LMT.")),
		mcp.WithNumber("limit_price", mcp.Description("Limit price; required for LMT and STP LMT orders.")),
		mcp.WithNumber("stop_price", mcp.Description("Stop price; required for STP and STP LMT orders.")),
		mcp.WithString("tif", mcp.Description("Time in force, e.g. DAY or GTC. Default DAY.")),
		mcp.WithString("sec_type", mcp.Description("Security type. Default STK.")),
		mcp.WithString("exchange", mcp.Description("Exchange. Default SMART.")),
		mcp.WithString("currency", mcp.Description("Currency. Default USD.")),
	), s.handlePlaceOrder)

	srv.AddTool(mcp.NewTool("get_orders",
		mcp.WithDescription("Get orders of the session with fill progress."),
		mcp.WithString("status", mcp.Description("Filter: all, open, filled or cancelled. Default all.")),
	), s.handleGetOrders)

	srv.AddTool(mcp.NewTool("cancel_order",
		mcp.WithDescription("Cancel an open order by its order ID."),
		mcp.WithNumber("order_id", mcp.Required(), mcp.Description("The order ID returned by place_order.")),
	), s.handleCancelOrder)

	srv.AddTool(mcp.NewTool("get_trades",
		mcp.WithDescription("Get execution reports (fills) with commissions."),
	), s.handleGetTrades)
}

func (s *Service) handlePlaceOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.IBKR.ReadOnly {
		return mcp.NewToolResultError("server is in read-only mode, order placement is disabled"), nil
	}

	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actionArg, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity, err := req.RequireFloat("quantity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	action := domain.OrderAction(strings.ToUpper(actionArg))
	if action != domain.ActionBuy && action != domain.ActionSell {
		return mcp.NewToolResultError(fmt.Sprintf("invalid action %q: must be BUY or SELL", actionArg)), nil
	}
	if quantity <= 0 {
		return mcp.NewToolResultError(fmt.Sprintf("quantity must be positive, got %v", quantity)), nil
	}

	orderType := strings.ToUpper(req.GetString("order_type", domain.OrderTypeLimit))
	if !s.cfg.OrderTypeAllowed(orderType) {
		return mcp.NewToolResultError(fmt.Sprintf("order type %q is not allowed (allowed: %s)", orderType, strings.Join(s.cfg.IBKR.OrderTypes, ", "))), nil
	}
	tif := strings.ToUpper(req.GetString("tif", domain.TIFDay))
	if !s.cfg.TIFAllowed(tif) {
		return mcp.NewToolResultError(fmt.Sprintf("TIF %q is not allowed (allowed: %s)", tif, strings.Join(s.cfg.IBKR.TIFTypes, ", "))), nil
	}

	limitPrice := req.GetFloat("limit_price", 0)
	stopPrice := req.GetFloat("stop_price", 0)
	switch orderType {
	case domain.OrderTypeLimit:
		if limitPrice <= 0 {
			return mcp.NewToolResultError("limit_price is required for LMT orders"), nil
		}
	case domain.OrderTypeStop:
		if stopPrice <= 0 {
			return mcp.NewToolResultError("stop_price is required for STP orders"), nil
		}
	case domain.OrderTypeStopLimit:
		if limitPrice <= 0 || stopPrice <= 0 {
			return mcp.NewToolResultError("limit_price and stop_price are required for STP LMT orders"), nil
		}
	}

	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := s.cfg.Connection.RequestTimeout
	contract := contractFromArgs(req, symbol)

	if action == domain.ActionSell && !s.cfg.IBKR.AllowShortSelling {
		held, err := s.heldQuantity(ctx, br, contract)
		if err != nil {
			return mcp.NewToolResultError("short-selling check failed: " + err.Error()), nil
		}
		if held < quantity {
			return mcp.NewToolResultError(fmt.Sprintf("short selling is disabled: selling %v but holding %v %s", quantity, held, symbol)), nil
		}
	}

	rec, err := br.PlaceOrder(ctx, contract, ibgw.OrderRequest{
		Action:     action,
		Quantity:   quantity,
		OrderType:  orderType,
		TIF:        tif,
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
	}, timeout)
	if err != nil && !errors.Is(err, bridge.ErrTimedOut) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.journal != nil {
		if jerr := s.journal.RecordOrder(ctx, rec); jerr != nil {
			s.log.Warn("journaling order failed", "orderID", rec.OrderID, "err", jerr)
		}
	}
	s.log.Info("order placed", "orderID", rec.OrderID, "symbol", symbol, "action", action, "quantity", quantity, "type", orderType)
	return jsonResult(rec)
}

// heldQuantity returns the currently held quantity of the contract's
// instrument across all accounts, from a fresh position snapshot.
func (s *Service) heldQuantity(ctx context.Context, br *bridge.Bridge, c domain.Contract) (float64, error) {
	positions, err := br.RequestPositions(ctx, s.cfg.Connection.RequestTimeout)
	if hardFailure(err, len(positions)) {
		return 0, err
	}
	var held float64
	for _, p := range positions {
		if p.Contract.Symbol == c.Symbol && p.Contract.SecType == c.SecType {
			held += p.Quantity
		}
	}
	return held, nil
}

func (s *Service) handleGetOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := strings.ToLower(req.GetString("status", "all"))
	switch filter {
	case "all", "open", "filled", "cancelled":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q: must be all, open, filled or cancelled", filter)), nil
	}

	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	orders, err := br.RequestOrders(ctx, s.cfg.Connection.RequestTimeout)
	if hardFailure(err, len(orders)) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if filter != "all" {
		kept := orders[:0]
		for _, o := range orders {
			if matchOrderStatus(filter, o.Status) {
				kept = append(kept, o)
			}
		}
		orders = kept
	}
	return jsonResult(orders)
}

// matchOrderStatus applies the get_orders status filter. "cancelled" also
// matches ApiCancelled; "open" is everything not terminally filled or
// cancelled.
func matchOrderStatus(filter, status string) bool {
	filled := status == "Filled"
	cancelled := strings.Contains(status, "Cancelled")
	switch filter {
	case "filled":
		return filled
	case "cancelled":
		return cancelled
	case "open":
		return !filled && !cancelled
	}
	return true
}

func (s *Service) handleCancelOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.IBKR.ReadOnly {
		return mcp.NewToolResultError("server is in read-only mode, order cancellation is disabled"), nil
	}
	orderID, err := req.RequireInt("order_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := br.CancelOrder(ctx, int64(orderID), s.cfg.Connection.RequestTimeout)
	if err != nil && !errors.Is(err, bridge.ErrTimedOut) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.journal != nil {
		if jerr := s.journal.RecordCancel(ctx, int64(orderID), rec.Status); jerr != nil {
			s.log.Warn("journaling cancel failed", "orderID", orderID, "err", jerr)
		}
	}
	s.log.Info("order cancel requested", "orderID", orderID, "status", rec.Status)
	return jsonResult(rec)
}

func (s *Service) handleGetTrades(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	execs, err := br.RequestExecutions(ctx, s.cfg.Connection.RequestTimeout)
	return partialOrError(execs, err)
}
