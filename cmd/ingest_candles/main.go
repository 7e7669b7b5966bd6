// Command ingest_candles loads OHLCV CSV files into the ClickHouse candle
// store. Re-running over the same file is a no-op thanks to version-based
// dedup.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"cfdbacktest/services/clickhouse"
	"cfdbacktest/services/engine"
)

func main() {
	csvPath := flag.String("csv", "", "OHLCV CSV file (timestamp,open,high,low,close,volume)")
	symbol := flag.String("symbol", "", "Candle symbol, e.g. UK100")
	interval := flag.String("interval", "15m", "Candle interval, e.g. 15m or 4h")
	chAddr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	chDatabase := flag.String("ch-database", "backtest", "ClickHouse database")
	chTable := flag.String("ch-table", "ohlcv", "ClickHouse candle table")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if *csvPath == "" || *symbol == "" {
		logger.Fatal("-csv and -symbol are required")
	}

	series, err := engine.LoadCSVSeries(*csvPath)
	if err != nil {
		logger.Fatal("load csv", zap.Error(err))
	}

	ctx := context.Background()
	cfg := clickhouse.DefaultConfig()
	cfg.Addr = *chAddr
	cfg.Database = *chDatabase
	cfg.Table = *chTable

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	rows, err := client.IngestSeries(ctx, *symbol, *interval, series)
	if err != nil {
		logger.Fatal("ingest", zap.Error(err))
	}

	total, err := client.Count(ctx, *symbol, *interval)
	if err != nil {
		logger.Fatal("count", zap.Error(err))
	}
	logger.Info("ingest complete",
		zap.String("symbol", *symbol),
		zap.String("interval", *interval),
		zap.Int("rows", rows),
		zap.Uint64("stored", total),
	)
}
