// Command run_backtest executes one CFD backtest over CSV files or the
// ClickHouse candle store and prints the performance summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cfdbacktest/services/arrowexport"
	"cfdbacktest/services/clickhouse"
	"cfdbacktest/services/config"
	"cfdbacktest/services/engine"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	csvEntry := flag.String("csv", "", "Entry-timeframe CSV (timestamp,open,high,low,close,volume)")
	csvTrend := flag.String("csv-trend", "", "Trend-timeframe CSV (same layout)")

	useCH := flag.Bool("ch", false, "Load candles from ClickHouse instead of CSV")
	chAddr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	chDatabase := flag.String("ch-database", "backtest", "ClickHouse database")
	chTable := flag.String("ch-table", "ohlcv", "ClickHouse candle table")
	symbol := flag.String("symbol", "UK100", "Candle symbol in the store")
	entryInterval := flag.String("entry-interval", "15m", "Entry timeframe interval")
	trendInterval := flag.String("trend-interval", "4h", "Trend timeframe interval")
	from := flag.String("from", "", "Start UTC (YYYY-MM-DD HH:MM:SS or unix ms)")
	to := flag.String("to", "", "End UTC (YYYY-MM-DD HH:MM:SS or unix ms)")

	stepMin := flag.Int("step-min", 15, "Expected entry bar step in minutes, for gap detection")
	out := flag.String("out", "", "Write the closed-trade log to this CSV path")
	arrowOut := flag.String("arrow", "", "Write the closed-trade log to this Arrow IPC path")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := buildLogger(*verbose)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	var entry, trend *engine.Series
	if *useCH {
		ctx := context.Background()
		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = *chAddr
		chCfg.Database = *chDatabase
		chCfg.Table = *chTable
		client, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			logger.Fatal("connect clickhouse", zap.Error(err))
		}
		defer client.Close()

		fromMs, err := parseTimeFlag(*from)
		if err != nil {
			logger.Fatal("parse -from", zap.Error(err))
		}
		toMs, err := parseTimeFlag(*to)
		if err != nil {
			logger.Fatal("parse -to", zap.Error(err))
		}
		entry, err = client.LoadBars(ctx, *symbol, *entryInterval, fromMs, toMs)
		if err != nil {
			logger.Fatal("load entry bars", zap.Error(err))
		}
		trend, err = client.LoadBars(ctx, *symbol, *trendInterval, fromMs, toMs)
		if err != nil {
			logger.Fatal("load trend bars", zap.Error(err))
		}
	} else {
		if *csvEntry == "" || *csvTrend == "" {
			fmt.Fprintln(os.Stderr, "either -ch or both -csv and -csv-trend are required")
			flag.Usage()
			os.Exit(2)
		}
		entry, err = engine.LoadCSVSeries(*csvEntry)
		if err != nil {
			logger.Fatal("load entry csv", zap.Error(err))
		}
		trend, err = engine.LoadCSVSeries(*csvTrend)
		if err != nil {
			logger.Fatal("load trend csv", zap.Error(err))
		}
	}

	if gaps := entry.DetectGaps(int64(*stepMin) * 60_000); len(gaps) > 0 {
		logger.Warn("entry data has gaps",
			zap.Int("count", len(gaps)),
			zap.Time("first", time.UnixMilli(gaps[0]).UTC()),
		)
	}

	eng, err := engine.New(cfg, entry, trend, logger)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	res, err := eng.Run()
	if err != nil {
		logger.Fatal("run backtest", zap.Error(err))
	}

	printSummary(cfg, res.Summary)

	if *out != "" {
		if err := engine.WriteTradesCSV(*out, res.Trades); err != nil {
			logger.Fatal("write trades csv", zap.Error(err))
		}
		logger.Info("trade log written", zap.String("path", *out))
	}
	if *arrowOut != "" && len(res.Trades) > 0 {
		if err := arrowexport.WriteTradesFile(*arrowOut, res.Trades); err != nil {
			logger.Fatal("write arrow trades", zap.Error(err))
		}
		logger.Info("arrow trade log written", zap.String("path", *arrowOut))
	}
}

func buildLogger(verbose bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger
}

// parseTimeFlag accepts unix milliseconds or a UTC datetime.
func parseTimeFlag(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("time flag is required with -ch")
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", v)
	if err != nil {
		return 0, fmt.Errorf("unrecognized time %q", v)
	}
	return t.UTC().UnixMilli(), nil
}

func printSummary(cfg config.Config, s engine.Summary) {
	fmt.Printf("\n=== %s ===\n", cfg.Instrument.Name)
	fmt.Printf("Trades:        %d (W:%d L:%d, win rate %s%%)\n",
		s.TotalTrades, s.Wins, s.Losses, s.WinRate.StringFixed(2))
	fmt.Printf("Total P&L:     $%s\n", s.TotalProfit.StringFixed(2))
	fmt.Printf("Profit factor: %s\n", s.ProfitFactor)
	fmt.Printf("Avg win/loss:  $%s / $%s\n", s.AvgWin.StringFixed(2), s.AvgLoss.StringFixed(2))
	fmt.Printf("Max drawdown:  %s%%\n", s.MaxDrawdown.StringFixed(2))
	fmt.Printf("Final capital: $%s (ROI %s%%)\n", s.FinalCapital.StringFixed(2), s.ROI.StringFixed(2))
}
