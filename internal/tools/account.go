package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ibgate/internal/domain"
)

func (s *Service) registerAccountTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("get_positions",
		mcp.WithDescription("Get current positions across all managed accounts."),
		mcp.WithString("account", mcp.Description("Filter to one account ID (e.g. DU1234567).")),
	), s.handleGetPositions)

	srv.AddTool(mcp.NewTool("get_account_summary",
		mcp.WithDescription("Get account values (net liquidation, buying power, margin, ...)."),
		mcp.WithString("account", mcp.Description("Account ID; defaults to the first managed account.")),
		mcp.WithString("tags", mcp.Description("Comma-separated value tags to return (e.g. NetLiquidation,BuyingPower). Empty = all.")),
	), s.handleGetAccountSummary)

	srv.AddTool(mcp.NewTool("get_portfolio",
		mcp.WithDescription("Get positions together with key account values in one call."),
		mcp.WithString("account", mcp.Description("Account ID; defaults to the first managed account.")),
	), s.handleGetPortfolio)
}

func (s *Service) handleGetPositions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	positions, err := br.RequestPositions(ctx, s.cfg.Connection.RequestTimeout)
	if account := req.GetString("account", ""); account != "" {
		filtered := positions[:0]
		for _, p := range positions {
			if p.Account == account {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}
	return partialOrError(positions, err)
}

func (s *Service) handleGetAccountSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	account := s.defaultAccount(req.GetString("account", ""), br.Accounts())
	values, err := br.RequestAccountValues(ctx, account, s.cfg.Connection.RequestTimeout)
	if hardFailure(err, len(values)) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if tags := parseTags(req.GetString("tags", "")); len(tags) > 0 {
		kept := values[:0]
		for _, v := range values {
			if tags[v.Tag] {
				kept = append(kept, v)
			}
		}
		values = kept
	}
	return jsonResult(values)
}

// parseTags splits the comma-separated tags argument into a lookup set.
func parseTags(arg string) map[string]bool {
	tags := make(map[string]bool)
	for _, tag := range strings.Split(arg, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags[tag] = true
		}
	}
	return tags
}

func (s *Service) handleGetPortfolio(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	br, err := s.bridge(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	account := s.defaultAccount(req.GetString("account", ""), br.Accounts())
	timeout := s.cfg.Connection.RequestTimeout

	positions, err := br.RequestPositions(ctx, timeout)
	if hardFailure(err, len(positions)) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if account != "" {
		filtered := positions[:0]
		for _, p := range positions {
			if p.Account == account {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}

	values, err := br.RequestAccountValues(ctx, account, timeout)
	if hardFailure(err, len(values)) {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(struct {
		Account   string                `json:"account"`
		Positions []domain.Position     `json:"positions"`
		Values    []domain.AccountValue `json:"accountValues"`
	}{Account: account, Positions: positions, Values: values})
}

// defaultAccount resolves the account argument, falling back to the first
// managed account of the session.
func (s *Service) defaultAccount(requested string, managed []string) string {
	if requested != "" {
		return requested
	}
	if len(managed) > 0 {
		return managed[0]
	}
	return ""
}
