package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cfdbacktest/services/config"
)

// rawEngine builds an engine around pre-set state for unit tests of the
// position lifecycle, bypassing indicator computation.
func rawEngine(cfg config.Config, entry *Series) *Engine {
	st := newRiskState(cfg.Capital)
	return &Engine{
		cfg:          cfg,
		entry:        entry,
		state:        st,
		gov:          NewRiskGovernor(cfg.Risk, cfg.Capital, st),
		log:          zap.NewNop(),
		halfSpread:   decimal.NewFromFloat(cfg.Instrument.Spread).Div(decimal.NewFromInt(2)),
		unitValue:    decimal.NewFromFloat(cfg.Instrument.UnitValue),
		riskPerTrade: decimal.NewFromFloat(cfg.Capital.RiskPerTrade),
	}
}

func lifecycleConfig() config.Config {
	cfg := config.Default()
	cfg.Instrument = config.Instrument{
		Name:              "test",
		UnitValue:         0.5,
		MinPositionSize:   0.5,
		MarginRequirement: 0.05,
		Spread:            1.0,
		StopLimits:        config.StopLimits{MinDistance: 15, MaxDistance: 150},
	}
	return cfg
}

func TestApplySpread(t *testing.T) {
	e := rawEngine(lifecycleConfig(), nil)
	close := decimal.NewFromInt(100)

	if got := e.applySpread(close, Long); !got.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("long entry = %s, want 100.5", got)
	}
	if got := e.applySpread(close, Short); !got.Equal(decimal.NewFromFloat(99.5)) {
		t.Errorf("short entry = %s, want 99.5", got)
	}
}

func TestPositionSize(t *testing.T) {
	e := rawEngine(lifecycleConfig(), nil)

	// Risk 10, distance 10 points, unit value 0.5: 10 / 5 = 2 units.
	size, nominal := e.positionSize(decimal.NewFromFloat(100.5), decimal.NewFromFloat(90.5))
	if !size.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("size = %s, want 2", size)
	}
	if !nominal.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("nominal = %s, want 1", nominal)
	}
}

func TestPositionSizeRoundsToMinimum(t *testing.T) {
	e := rawEngine(lifecycleConfig(), nil)

	// Risk 10, distance 12 points: exact 1.667, rounded to 3 half-units.
	size, _ := e.positionSize(decimal.NewFromInt(112), decimal.NewFromInt(100))
	if !size.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("size = %s, want 1.5", size)
	}
}

func TestPositionSizeRejectsBelowMinimum(t *testing.T) {
	e := rawEngine(lifecycleConfig(), nil)

	// Distance 100 points: exact 0.2, rounds to zero half-units.
	size, _ := e.positionSize(decimal.NewFromInt(200), decimal.NewFromInt(100))
	if size.Sign() != 0 {
		t.Fatalf("size = %s, want rejection", size)
	}
}

func TestPositionSizeRejectsZeroDistance(t *testing.T) {
	e := rawEngine(lifecycleConfig(), nil)
	size, _ := e.positionSize(decimal.NewFromInt(100), decimal.NewFromInt(100))
	if size.Sign() != 0 {
		t.Fatal("zero stop distance must be rejected")
	}
}

func TestPositionSizeMarginCap(t *testing.T) {
	cfg := lifecycleConfig()
	cfg.Instrument.MarginRequirement = 1.0
	e := rawEngine(cfg, nil)
	e.state.capital = decimal.NewFromInt(1)

	// Margin 1.0 exceeds 80% of the 1-unit account.
	size, _ := e.positionSize(decimal.NewFromFloat(100.5), decimal.NewFromFloat(90.5))
	if size.Sign() != 0 {
		t.Fatalf("size = %s, want margin rejection", size)
	}
}

func trailingSetup(t *testing.T, closes []float64) *Engine {
	t.Helper()
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = flatBar(int64(i)*60000, c, 1)
	}
	cfg := lifecycleConfig()
	cfg.Risk.UseTrailingStop = true
	cfg.Risk.TrailingStopPercent = 0.02
	e := rawEngine(cfg, mustSeries(t, bars))
	e.pos = &Position{
		Side:       Long,
		EntryPrice: decimal.NewFromFloat(100.5),
		StopLoss:   decimal.NewFromInt(95),
		Size:       decimal.NewFromInt(1),
		EntryTime:  0,
	}
	return e
}

func TestTrailingStopMovesOnlyUp(t *testing.T) {
	e := trailingSetup(t, []float64{100, 110, 109, 101})

	// Close 110 with profit: stop trails to 110 - 2% = 107.8.
	e.manage(1)
	if e.pos == nil || !e.pos.StopLoss.Equal(decimal.NewFromFloat(107.8)) {
		t.Fatalf("stop after bar 1 = %v, want 107.8", e.pos)
	}

	// Close 109: candidate 106.82 is below the current stop; unchanged.
	e.manage(2)
	if e.pos == nil || !e.pos.StopLoss.Equal(decimal.NewFromFloat(107.8)) {
		t.Fatalf("stop after bar 2 = %v, want unchanged 107.8", e.pos)
	}

	// Close 101: bid 100.5 breaches the stop; exit at stop minus half spread.
	e.manage(3)
	if e.pos != nil {
		t.Fatal("position must be closed after stop breach")
	}
	if len(e.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(e.trades))
	}
	tr := e.trades[0]
	if !tr.ExitPrice.Equal(decimal.NewFromFloat(107.3)) {
		t.Errorf("exit price = %s, want 107.3", tr.ExitPrice)
	}
	if !tr.ProfitLoss.Equal(decimal.NewFromFloat(6.8)) {
		t.Errorf("pnl = %s, want 6.8", tr.ProfitLoss)
	}
	if tr.ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %v, want stop_loss", tr.ExitReason)
	}
}

func TestTrailingStopNeedsUnrealizedProfit(t *testing.T) {
	e := trailingSetup(t, []float64{100, 100.8})

	// Bid 100.3 is below the 100.5 entry: no profit, no trailing.
	e.manage(1)
	if e.pos == nil || !e.pos.StopLoss.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("stop = %v, want untouched 95", e.pos)
	}
}

func TestShortStopBreach(t *testing.T) {
	bars := []Bar{flatBar(0, 100, 1), flatBar(60000, 105, 1)}
	cfg := lifecycleConfig()
	e := rawEngine(cfg, mustSeries(t, bars))
	e.pos = &Position{
		Side:       Short,
		EntryPrice: decimal.NewFromFloat(99.5),
		StopLoss:   decimal.NewFromInt(104),
		Size:       decimal.NewFromInt(2),
		EntryTime:  0,
	}

	// Ask 105.5 breaches the 104 stop; exit at stop plus half spread.
	e.manage(1)
	if e.pos != nil {
		t.Fatal("short must be stopped out")
	}
	tr := e.trades[0]
	if !tr.ExitPrice.Equal(decimal.NewFromFloat(104.5)) {
		t.Errorf("exit price = %s, want 104.5", tr.ExitPrice)
	}
	// Short P&L: (99.5 - 104.5) * 2 = -10.
	if !tr.ProfitLoss.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("pnl = %s, want -10", tr.ProfitLoss)
	}
	if e.state.consecutiveLosses != 1 {
		t.Errorf("consecutive losses = %d, want 1", e.state.consecutiveLosses)
	}
	if !e.state.capital.Equal(decimal.NewFromInt(990)) {
		t.Errorf("capital = %s, want 990", e.state.capital)
	}
}

func TestCloseResetsLossStreakOnWin(t *testing.T) {
	bars := []Bar{flatBar(0, 100, 1), flatBar(60000, 120, 1)}
	e := rawEngine(lifecycleConfig(), mustSeries(t, bars))
	e.state.consecutiveLosses = 3
	e.pos = &Position{
		Side:       Long,
		EntryPrice: decimal.NewFromFloat(100.5),
		StopLoss:   decimal.NewFromInt(95),
		Size:       decimal.NewFromInt(1),
		EntryTime:  0,
	}

	e.closePosition(1, decimal.NewFromFloat(110), ExitManual)
	if e.state.consecutiveLosses != 0 {
		t.Fatalf("loss streak = %d, want reset on a win", e.state.consecutiveLosses)
	}
	if !e.state.peakCapital.Equal(decimal.NewFromFloat(1009.5)) {
		t.Fatalf("peak capital = %s, want 1009.5", e.state.peakCapital)
	}
}
