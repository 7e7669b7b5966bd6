package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Side is the position direction. A closed enumeration so downstream logic
// cannot mismatch on free-form strings.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// ExitReason labels why a position was closed.
type ExitReason int

const (
	ExitStopLoss ExitReason = iota
	ExitTakeProfit
	ExitManual
)

func (r ExitReason) String() string {
	switch r {
	case ExitTakeProfit:
		return "take_profit"
	case ExitManual:
		return "manual"
	default:
		return "stop_loss"
	}
}

// Position is the single open position. At most one exists at any time; no
// pyramiding, no hedging. The stop is the only mutable field while open.
type Position struct {
	Side          Side
	EntryPrice    decimal.Decimal // spread-adjusted
	StopLoss      decimal.Decimal
	Size          decimal.Decimal
	EntryTime     int64
	EntryBarIndex int
}

// ClosedTrade is an immutable record of a settled position. The trade log
// is append-only for the run's lifetime.
type ClosedTrade struct {
	EntryTime    int64
	ExitTime     int64
	Side         Side
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Size         decimal.Decimal
	ProfitLoss   decimal.Decimal
	RiskMultiple decimal.Decimal // P&L over the per-trade risk budget
	ExitReason   ExitReason
	HoldTime     time.Duration
	Instrument   string
}

// applySpread converts a raw close into the executable price: longs pay the
// ask, shorts receive the bid.
func (e *Engine) applySpread(price decimal.Decimal, side Side) decimal.Decimal {
	if side == Long {
		return price.Add(e.halfSpread)
	}
	return price.Sub(e.halfSpread)
}

// positionSize derives units from the fixed risk budget per trade, rounded
// to multiples of the instrument minimum. It returns zero (rejecting the
// trade) when the rounded size falls below the minimum or the required
// margin would exceed 80% of current capital.
func (e *Engine) positionSize(entry, stop decimal.Decimal) (size, nominal decimal.Decimal) {
	riskPerUnit := entry.Sub(stop).Abs().Mul(e.unitValue)
	if riskPerUnit.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}

	exact := e.riskPerTrade.Div(riskPerUnit)
	minSize := decimal.NewFromFloat(e.cfg.Instrument.MinPositionSize)
	size = exact.Div(minSize).Round(0).Mul(minSize)
	if size.LessThan(minSize) {
		return decimal.Zero, decimal.Zero
	}

	nominal = size.Mul(e.unitValue)
	margin := nominal.Mul(decimal.NewFromFloat(e.cfg.Instrument.MarginRequirement))
	if margin.GreaterThan(e.state.capital.Mul(decimal.NewFromFloat(0.8))) {
		return decimal.Zero, decimal.Zero
	}
	return size, nominal
}

// tryEnter evaluates the full entry pipeline at bar i and opens a position
// when every gate passes. The stop distance is validated against the raw
// close; sizing uses the spread-adjusted entry.
func (e *Engine) tryEnter(i int) {
	bar := e.entry.Bars[i]
	now := bar.Time()

	bias := TrendBias(e.trend, bar.Timestamp)
	if bias == BiasNone {
		return
	}
	if !EvaluateMarketConditions(e.entry, i, e.cfg.Filters).AllPass() {
		return
	}
	if !SpreadOK(e.entry, i, e.cfg.Filters, e.cfg.Instrument) {
		return
	}
	if ok, reason := e.gov.Approve(now); !ok {
		e.log.Debug("entry blocked", zap.String("reason", reason), zap.Time("time", now))
		return
	}

	sig := SignalFor(e.entry, i, bias)
	if sig == SignalNone {
		return
	}
	side := Long
	if sig == SignalShort {
		side = Short
	}

	// Initial stop at the cloud boundary on the protective side.
	var stopF float64
	if side == Long {
		stopF = minF(e.entry.SpanA[i], e.entry.SpanB[i])
	} else {
		stopF = maxF(e.entry.SpanA[i], e.entry.SpanB[i])
	}
	stop := decimal.NewFromFloat(stopF)

	if ok, reason := StopDistanceOK(bar.Close, stop, e.cfg.Filters, e.cfg.Instrument); !ok {
		e.log.Debug("entry blocked", zap.String("reason", reason), zap.Time("time", now))
		return
	}

	entryPrice := e.applySpread(bar.Close, side)
	size, nominal := e.positionSize(entryPrice, stop)
	if size.Sign() == 0 {
		return
	}

	e.pos = &Position{
		Side:          side,
		EntryPrice:    entryPrice,
		StopLoss:      stop,
		Size:          size,
		EntryTime:     bar.Timestamp,
		EntryBarIndex: i,
	}
	e.state.tradesToday++
	e.state.lastTradeTime = now
	e.state.lastTradeSide = side

	e.log.Info("position opened",
		zap.Stringer("side", side),
		zap.Time("time", now),
		zap.String("close", bar.Close.StringFixed(1)),
		zap.String("entry", entryPrice.StringFixed(1)),
		zap.String("stop", stop.StringFixed(1)),
		zap.String("size", size.String()),
		zap.String("exposure", nominal.StringFixed(2)),
		zap.Stringer("bias", bias),
	)
}

// manage drives an open position through one bar: exit on stop breach at
// the spread-adjusted stop, otherwise trail the stop when the position
// shows unrealized profit. The stop never moves against the position.
func (e *Engine) manage(i int) {
	bar := e.entry.Bars[i]
	pos := e.pos
	trailPct := decimal.NewFromFloat(e.cfg.Risk.TrailingStopPercent)

	if pos.Side == Long {
		exitWithSpread := bar.Close.Sub(e.halfSpread)
		if exitWithSpread.LessThanOrEqual(pos.StopLoss) {
			e.closePosition(i, pos.StopLoss.Sub(e.halfSpread), ExitStopLoss)
			return
		}
		if e.cfg.Risk.UseTrailingStop {
			unrealized := exitWithSpread.Sub(pos.EntryPrice).Mul(pos.Size)
			if unrealized.Sign() > 0 {
				newStop := bar.Close.Sub(bar.Close.Mul(trailPct))
				if newStop.GreaterThan(pos.StopLoss) {
					pos.StopLoss = newStop
				}
			}
		}
		return
	}

	exitWithSpread := bar.Close.Add(e.halfSpread)
	if exitWithSpread.GreaterThanOrEqual(pos.StopLoss) {
		e.closePosition(i, pos.StopLoss.Add(e.halfSpread), ExitStopLoss)
		return
	}
	if e.cfg.Risk.UseTrailingStop {
		unrealized := pos.EntryPrice.Sub(exitWithSpread).Mul(pos.Size)
		if unrealized.Sign() > 0 {
			newStop := bar.Close.Add(bar.Close.Mul(trailPct))
			if newStop.LessThan(pos.StopLoss) {
				pos.StopLoss = newStop
			}
		}
	}
}

// closePosition settles the open position at exitPrice: realizes P&L into
// capital, updates the consecutive-loss streak, and appends the trade.
func (e *Engine) closePosition(i int, exitPrice decimal.Decimal, reason ExitReason) {
	bar := e.entry.Bars[i]
	pos := e.pos

	var pnl decimal.Decimal
	if pos.Side == Long {
		pnl = exitPrice.Sub(pos.EntryPrice).Mul(pos.Size)
	} else {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Size)
	}

	hold := time.Duration(bar.Timestamp-pos.EntryTime) * time.Millisecond
	trade := ClosedTrade{
		EntryTime:    pos.EntryTime,
		ExitTime:     bar.Timestamp,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		Size:         pos.Size,
		ProfitLoss:   pnl,
		RiskMultiple: pnl.Div(e.riskPerTrade),
		ExitReason:   reason,
		HoldTime:     hold,
		Instrument:   e.cfg.ActiveInstrument,
	}
	e.trades = append(e.trades, trade)

	e.state.capital = e.state.capital.Add(pnl)
	if e.state.capital.GreaterThan(e.state.peakCapital) {
		e.state.peakCapital = e.state.capital
	}
	if pnl.Sign() <= 0 {
		e.state.consecutiveLosses++
	} else {
		e.state.consecutiveLosses = 0
	}

	e.log.Info("position closed",
		zap.Stringer("side", pos.Side),
		zap.Time("time", bar.Time()),
		zap.String("exit", exitPrice.StringFixed(1)),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("r_multiple", trade.RiskMultiple.StringFixed(1)),
		zap.Stringer("reason", reason),
		zap.Duration("held", hold),
		zap.String("capital", e.state.capital.StringFixed(2)),
	)

	e.pos = nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
