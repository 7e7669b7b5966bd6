// Package engine implements the bar-by-bar CFD backtest simulation: the
// indicator calculator, entry filters, risk governor, single-position
// lifecycle, and results aggregation. The whole simulation is a
// deterministic, single-threaded scan over two in-memory series; every
// decision at bar i uses only bars at index <= i and trend bars at or
// before the current timestamp.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cfdbacktest/services/config"
)

// Engine runs one backtest over an entry-timeframe series and a
// trend-timeframe series. Engines are single-use and fully isolated: they
// hold a Config by value and own all mutable state, so independent
// instances can run in parallel.
type Engine struct {
	cfg   config.Config
	entry *Series
	trend *Series

	state *riskState
	gov   *RiskGovernor
	pos   *Position

	trades []ClosedTrade
	log    *zap.Logger

	halfSpread   decimal.Decimal
	unitValue    decimal.Decimal
	riskPerTrade decimal.Decimal
}

// Result is the engine output: the ordered closed-trade log and its
// aggregated summary. A position still open at run end is reported as-is
// and excluded from the trade log.
type Result struct {
	Trades       []ClosedTrade
	Summary      Summary
	OpenPosition *Position
}

// New validates the configuration, computes indicators on both series, and
// returns a ready-to-run engine. A nil logger is replaced with a no-op.
func New(cfg config.Config, entry, trend *Series, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ComputeIndicators(entry, cfg.Indicators); err != nil {
		return nil, fmt.Errorf("entry series: %w", err)
	}
	if err := ComputeIndicators(trend, cfg.Indicators); err != nil {
		return nil, fmt.Errorf("trend series: %w", err)
	}

	st := newRiskState(cfg.Capital)
	return &Engine{
		cfg:          cfg,
		entry:        entry,
		trend:        trend,
		state:        st,
		gov:          NewRiskGovernor(cfg.Risk, cfg.Capital, st),
		log:          logger,
		halfSpread:   decimal.NewFromFloat(cfg.Instrument.Spread).Div(decimal.NewFromInt(2)),
		unitValue:    decimal.NewFromFloat(cfg.Instrument.UnitValue),
		riskPerTrade: decimal.NewFromFloat(cfg.Capital.RiskPerTrade),
	}, nil
}

// Run executes the simulation and returns the trade log and summary.
// Iteration starts at the first bar where every lookback window is fully
// populated. Bars outside trading hours are skipped entirely; otherwise an
// open position is managed, or an entry is attempted.
func (e *Engine) Run() (*Result, error) {
	total := e.entry.Len()
	start := MinBars(e.cfg.Indicators)

	e.log.Info("starting backtest",
		zap.String("instrument", e.cfg.Instrument.Name),
		zap.Int("bars", total),
		zap.Int("warmup", start),
		zap.String("initial_capital", e.state.capital.StringFixed(2)),
	)

	progressEvery := total / 20
	if progressEvery < 1 {
		progressEvery = 1
	}

	for i := start; i < total; i++ {
		if i%progressEvery == 0 {
			e.log.Info("progress",
				zap.Int("bar", i),
				zap.Int("total", total),
				zap.Int("trades", len(e.trades)),
				zap.String("capital", e.state.capital.StringFixed(2)),
			)
		}

		if !InTradingHours(e.entry.Bars[i].Timestamp, e.cfg.Filters, e.cfg.Instrument) {
			continue
		}
		if e.pos != nil {
			e.manage(i)
		} else {
			e.tryEnter(i)
		}
	}

	if e.pos != nil {
		e.log.Info("position still open at end of data; excluded from trade log",
			zap.Stringer("side", e.pos.Side))
	}

	res := &Result{
		Trades:       e.trades,
		Summary:      Aggregate(e.trades, decimal.NewFromFloat(e.cfg.Capital.Initial)),
		OpenPosition: e.pos,
	}
	e.log.Info("backtest complete",
		zap.Int("trades", res.Summary.TotalTrades),
		zap.String("final_capital", res.Summary.FinalCapital.StringFixed(2)),
	)
	return res, nil
}

// Capital returns the current account capital; it equals initial capital
// plus the sum of all closed-trade P&L, exactly.
func (e *Engine) Capital() decimal.Decimal { return e.state.capital }
