package engine

import "math"

// Bias is the higher-timeframe trend classification.
type Bias int

const (
	BiasNone    Bias = iota // no trend bar exists yet at this point in time
	BiasNeutral             // price inside the cloud
	BiasBullish
	BiasBearish
)

func (b Bias) String() string {
	switch b {
	case BiasBullish:
		return "bullish"
	case BiasBearish:
		return "bearish"
	case BiasNeutral:
		return "neutral"
	default:
		return "none"
	}
}

// TrendBias classifies the most recent trend-timeframe bar at or before ts:
// bullish when its close sits above both cloud boundaries, bearish below
// both, neutral in between. The boundaries are the unshifted, as-of-bar
// values; no forward displacement is applied. Bars inside the cloud's own
// warm-up region classify as neutral, so no entries fire before the trend
// cloud is fully populated.
func TrendBias(trend *Series, ts int64) Bias {
	i := trend.AtOrBefore(ts)
	if i < 0 || len(trend.SpanA) != trend.Len() {
		return BiasNone
	}
	if i < trend.spanWarmup {
		return BiasNeutral
	}
	close, _ := trend.Bars[i].Close.Float64()
	top := math.Max(trend.SpanA[i], trend.SpanB[i])
	bottom := math.Min(trend.SpanA[i], trend.SpanB[i])
	switch {
	case close > top:
		return BiasBullish
	case close < bottom:
		return BiasBearish
	default:
		return BiasNeutral
	}
}

// Signal is a detected conversion/base-line crossover setup.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

// CrossSignal detects a conversion-line/base-line crossover between bar i-1
// and bar i: previous at-or-below and current above is a long setup, the
// mirror is a short setup.
func CrossSignal(s *Series, i int) Signal {
	if i < 1 || len(s.Tenkan) != s.Len() {
		return SignalNone
	}
	tc, tp := s.Tenkan[i], s.Tenkan[i-1]
	kc, kp := s.Kijun[i], s.Kijun[i-1]
	if tc > kc && tp <= kp {
		return SignalLong
	}
	if tc < kc && tp >= kp {
		return SignalShort
	}
	return SignalNone
}

// SignalFor returns the crossover at bar i only when its direction matches
// the trend bias; a neutral or absent bias permits no entries.
func SignalFor(s *Series, i int, bias Bias) Signal {
	sig := CrossSignal(s, i)
	switch bias {
	case BiasBullish:
		if sig == SignalLong {
			return SignalLong
		}
	case BiasBearish:
		if sig == SignalShort {
			return SignalShort
		}
	}
	return SignalNone
}
