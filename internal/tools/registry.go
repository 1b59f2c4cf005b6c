// Package tools exposes the broker operations as MCP tools. Handlers are
// thin translators: parse arguments, call through the connection manager's
// bridge, serialize the result. All policy (read-only, allowed order
// types, short-selling) is enforced here, before anything reaches TWS.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ibgate/internal/bridge"
	"ibgate/internal/config"
	"ibgate/internal/conn"
	"ibgate/internal/store"
)

// Service holds what the tool handlers need: configuration for policy
// checks, the connection manager for bridge access, and storage for the
// order journal and bar exports.
type Service struct {
	cfg      *config.Config
	mgr      *conn.Manager
	journal  store.OrderJournal
	exporter store.BarExporter
	log      *slog.Logger
}

// NewService wires a tool service. journal and exporter may be nil when
// the corresponding storage is disabled.
func NewService(cfg *config.Config, mgr *conn.Manager, journal store.OrderJournal, exporter store.BarExporter, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		mgr:      mgr,
		journal:  journal,
		exporter: exporter,
		log:      log.With("component", "tools"),
	}
}

// NewServer builds the MCP server with every tool registered.
func NewServer(svc *Service) *server.MCPServer {
	srv := server.NewMCPServer(
		svc.cfg.MCP.Name,
		svc.cfg.MCP.Version,
		server.WithToolCapabilities(false),
	)
	svc.registerAccountTools(srv)
	svc.registerMarketTools(srv)
	svc.registerTradingTools(srv)
	return srv
}

// bridge ensures the session is up and returns it. Every tool call goes
// through here, so a dropped connection heals on the next request instead
// of waiting for the heartbeat.
func (s *Service) bridge(ctx context.Context) (*bridge.Bridge, error) {
	if err := s.mgr.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return s.mgr.Bridge()
}

// jsonResult serializes v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("serializing result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// hardFailure reports whether a request outcome must be surfaced as a
// tool error. A timeout with partial data is not one: the vendor may
// simply be slow, and what arrived is valid.
func hardFailure(err error, got int) bool {
	return err != nil && (!errors.Is(err, bridge.ErrTimedOut) || got == 0)
}

// partialOrError turns a request outcome into a tool result, returning
// partial data on a timeout when any arrived.
func partialOrError[T any](items []T, err error) (*mcp.CallToolResult, error) {
	if hardFailure(err, len(items)) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}
