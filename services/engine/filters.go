package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cfdbacktest/services/config"
)

// InTradingHours reports whether ts falls inside the instrument's trading
// window, inclusive on both bounds. A start later than the end means the
// window wraps past midnight. Disabled filter accepts everything.
func InTradingHours(ts int64, f config.Filters, inst config.Instrument) bool {
	if !f.UseTradingHours {
		return true
	}
	t := time.UnixMilli(ts).UTC()
	cur := t.Hour()*60 + t.Minute()
	start := inst.TradingHours.StartHour*60 + inst.TradingHours.StartMinute
	end := inst.TradingHours.EndHour*60 + inst.TradingHours.EndMinute
	if start > end {
		return cur >= start || cur <= end
	}
	return start <= cur && cur <= end
}

// SpreadOK estimates a volatility-scaled spread (base spread widened by the
// ratio of current ATR to its trailing 20-bar average, never narrowed) and
// accepts only if it stays within the configured multiple of the base
// spread. A zero average degrades the ratio to 1.0.
func SpreadOK(s *Series, i int, f config.Filters, inst config.Instrument) bool {
	if !f.UseSpread {
		return true
	}
	start := i - 20
	if start < 0 {
		start = 0
	}
	var sum float64
	count := 0
	for j := start; j < i; j++ {
		sum += s.ATR[j]
		count++
	}
	mult := 1.0
	if count > 0 {
		if avg := sum / float64(count); avg > 0 {
			if r := s.ATR[i] / avg; r > 1.0 {
				mult = r
			}
		}
	}
	return inst.Spread*mult <= inst.Spread*f.MaxSpreadMultiplier
}

// StopDistanceOK rejects a prospective stop whose distance from the entry
// price falls outside the instrument's permitted range. The reason string
// is for logs only; callers branch on the bool.
func StopDistanceOK(entry, stop decimal.Decimal, f config.Filters, inst config.Instrument) (bool, string) {
	if !f.UseStopDistance {
		return true, "stop distance filter disabled"
	}
	dist := entry.Sub(stop).Abs()
	min := decimal.NewFromFloat(inst.StopLimits.MinDistance)
	max := decimal.NewFromFloat(inst.StopLimits.MaxDistance)
	if dist.LessThan(min) {
		return false, fmt.Sprintf("stop too close: %s < %s points", dist.StringFixed(1), min.StringFixed(1))
	}
	if dist.GreaterThan(max) {
		return false, fmt.Sprintf("stop too far: %s > %s points", dist.StringFixed(1), max.StringFixed(1))
	}
	return true, "stop distance ok"
}

// MarketConditions is the per-bar filter bundle. Disabled sub-conditions
// report true; the bundle passes only if every member passes.
type MarketConditions struct {
	VolumeSurge      bool
	ATRIncreasing    bool
	RSINotOverbought bool
	RSINotOversold   bool
}

// AllPass reports whether every sub-condition holds.
func (c MarketConditions) AllPass() bool {
	return c.VolumeSurge && c.ATRIncreasing && c.RSINotOverbought && c.RSINotOversold
}

// EvaluateMarketConditions computes the filter bundle at bar i. An index
// outside the computed columns fails closed: every sub-condition false,
// never a panic up through the bar loop.
func EvaluateMarketConditions(s *Series, i int, f config.Filters) MarketConditions {
	if i < 0 || i >= s.Len() || len(s.ATR) != s.Len() || len(s.RSI) != s.Len() || len(s.VolSMA) != s.Len() {
		return MarketConditions{}
	}

	c := MarketConditions{VolumeSurge: true, ATRIncreasing: true, RSINotOverbought: true, RSINotOversold: true}
	if f.UseVolume {
		ratio := 1.0
		if s.VolSMA[i] > 0 {
			ratio = s.Vol[i] / s.VolSMA[i]
		}
		c.VolumeSurge = ratio > f.VolumeThreshold
	}
	if f.UseATR {
		prev := s.ATR[i]
		if i > 0 {
			prev = s.ATR[i-1]
		}
		ratio := 1.0
		if prev > 0 {
			ratio = s.ATR[i] / prev
		}
		c.ATRIncreasing = ratio > f.ATRThreshold
	}
	if f.UseRSI {
		c.RSINotOverbought = s.RSI[i] < f.RSIOverbought
		c.RSINotOversold = s.RSI[i] > f.RSIOversold
	}
	return c
}
