// Command ibgate-export fetches historical bars from TWS and writes them
// to Parquet, without going through the MCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ibgate/internal/config"
	"ibgate/internal/conn"
	"ibgate/internal/ibgw"
	"ibgate/internal/store"
	"ibgate/internal/tools"
	"ibgate/internal/util"
)

func main() {
	var (
		cfgPath  = flag.String("config", "config/ibgate.yaml", "path to the configuration file")
		symbol   = flag.String("symbol", "", "ticker symbol to export (required)")
		duration = flag.String("duration", "1 Y", "lookback window, e.g. '1 M', '1 Y'")
		barSize  = flag.String("barsize", "1 day", "bar size, e.g. '1 min', '1 day'")
	)
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

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

	path, n, err := tools.ExportBars(ctx, cfg, mgr, store.NewParquetExporter(cfg.Storage.DataDir), *symbol, *duration, *barSize)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("wrote %d bars to %s\n", n, path)
}
