// Command sweep grid-searches filter and risk parameters over one dataset
// and prints the best combinations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cfdbacktest/services/config"
	"cfdbacktest/services/engine"
	"cfdbacktest/services/sweep"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	specPath := flag.String("spec", "sweep.yaml", "Path to YAML sweep grid specification")
	csvEntry := flag.String("csv", "", "Entry-timeframe CSV (timestamp,open,high,low,close,volume)")
	csvTrend := flag.String("csv-trend", "", "Trend-timeframe CSV (same layout)")
	top := flag.Int("top", 10, "Number of best combinations to print")
	flag.Parse()

	if *csvEntry == "" || *csvTrend == "" {
		fmt.Fprintln(os.Stderr, "-csv and -csv-trend are required")
		flag.Usage()
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	spec, err := loadSpec(*specPath)
	if err != nil {
		logger.Fatal("load sweep spec", zap.Error(err))
	}

	entry, err := engine.LoadCSVSeries(*csvEntry)
	if err != nil {
		logger.Fatal("load entry csv", zap.Error(err))
	}
	trend, err := engine.LoadCSVSeries(*csvTrend)
	if err != nil {
		logger.Fatal("load trend csv", zap.Error(err))
	}

	outcomes, err := sweep.Run(context.Background(), cfg, entry.Bars, trend.Bars, spec, logger)
	if err != nil {
		logger.Fatal("run sweep", zap.Error(err))
	}

	n := *top
	if n > len(outcomes) {
		n = len(outcomes)
	}
	fmt.Printf("\n%-10s %-8s %-10s %8s %8s %10s %8s\n",
		"volume", "atr", "trailing", "trades", "win%", "pnl", "pf")
	for _, o := range outcomes[:n] {
		fmt.Printf("%-10.2f %-8.2f %-10.3f %8d %8s %10s %8s\n",
			o.VolumeThreshold,
			o.ATRThreshold,
			o.TrailingStopPercent,
			o.Summary.TotalTrades,
			o.Summary.WinRate.StringFixed(1),
			o.Summary.TotalProfit.StringFixed(2),
			o.Summary.ProfitFactor,
		)
	}
}

func loadSpec(path string) (sweep.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sweep.Spec{}, err
	}
	var spec sweep.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return sweep.Spec{}, fmt.Errorf("parse sweep spec: %w", err)
	}
	if spec.Metric == "" {
		spec.Metric = sweep.MetricProfitFactor
	}
	return spec, nil
}
