package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"ibgate/internal/config"
	"ibgate/internal/conn"
	"ibgate/internal/ibgw"
	"ibgate/internal/store"
	"ibgate/internal/tools"
	"ibgate/internal/util"
)

func main() {
	cfgPath := "config/ibgate.yaml"
	if p := os.Getenv("IBGATE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// stdout belongs to the MCP transport; everything else goes to stderr.
	logger := util.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	dial := func(sink ibgw.Events) ibgw.Gateway {
		if cfg.IBKR.Simulated {
			return ibgw.NewSimulator(sink)
		}
		return ibgw.NewTWS(sink, logger)
	}
	mgr := conn.NewManager(cfg, dial, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to TWS: %v", err)
	}
	defer mgr.Disconnect()

	hb := conn.NewHeartbeat(mgr, cfg.Connection.HeartbeatInterval, logger)
	hb.Start(ctx)
	defer hb.Stop()

	journal, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open order journal: %v", err)
	}
	defer journal.Close()

	exporter := store.NewParquetExporter(cfg.Storage.DataDir)

	svc := tools.NewService(cfg, mgr, journal, exporter, logger)
	srv := tools.NewServer(svc)

	logger.Info("ibgate server ready", "host", cfg.IBKR.Host, "port", cfg.IBKR.Port, "readOnly", cfg.IBKR.ReadOnly)
	if err := server.ServeStdio(srv); err != nil && ctx.Err() == nil {
		log.Fatalf("server error: %v", err)
	}
}
