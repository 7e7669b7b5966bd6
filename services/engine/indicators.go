package engine

import (
	"fmt"
	"math"

	"cfdbacktest/services/config"
)

// InsufficientDataError is returned when a series is shorter than the
// largest configured lookback window. It aborts the run before any
// simulation starts.
type InsufficientDataError struct {
	Needed int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d bars, got %d", e.Needed, e.Got)
}

// MinBars returns the first index at which every lookback window is fully
// populated; simulation starts there.
func MinBars(ic config.Indicators) int {
	n := ic.SenkouPeriods
	if ic.VolumeSMAPeriods > n {
		n = ic.VolumeSMAPeriods
	}
	if ic.ATRPeriods > n {
		n = ic.ATRPeriods
	}
	return n
}

// ComputeIndicators fills the indicator columns of s. Leading positions
// where a window is not yet full are backfilled with benign defaults
// (mean ATR, RSI 50, raw volume for the volume SMA) so no consumer past the
// warm-up threshold ever observes an undefined value. The cloud boundaries
// are deliberately kept unshifted, as-of-bar, to preserve causal ordering.
func ComputeIndicators(s *Series, ic config.Indicators) error {
	n := s.Len()
	if need := MinBars(ic); n < need {
		return &InsufficientDataError{Needed: need, Got: n}
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	s.Vol = make([]float64, n)
	for i, b := range s.Bars {
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		closes[i], _ = b.Close.Float64()
		v, _ := b.Volume.Float64()
		if v < 0 {
			v = 0
		}
		s.Vol[i] = v
	}

	s.Tenkan = rollingMidpoint(highs, lows, ic.TenkanPeriods)
	s.Kijun = rollingMidpoint(highs, lows, ic.KijunPeriods)
	s.SpanB = rollingMidpoint(highs, lows, ic.SenkouPeriods)
	s.SpanA = make([]float64, n)
	for i := 0; i < n; i++ {
		s.SpanA[i] = (s.Tenkan[i] + s.Kijun[i]) / 2.0
	}

	// Lagging span: close shifted backward by the base-line window. The
	// tail has no future close to show; nothing in the signal path reads it.
	s.Chikou = make([]float64, n)
	for i := 0; i < n; i++ {
		if i+ic.KijunPeriods < n {
			s.Chikou[i] = closes[i+ic.KijunPeriods]
		} else {
			s.Chikou[i] = math.NaN()
		}
	}

	s.ATR = wilderATR(highs, lows, closes, ic.ATRPeriods)
	s.VolSMA = volumeSMA(s.Vol, ic.VolumeSMAPeriods)
	s.RSI = wilderRSI(closes, ic.RSIPeriods)

	// Boundary values before a full long window are clamped-window
	// artifacts, not a real cloud; bias lookups treat those bars as
	// neutral rather than acting on them.
	s.spanWarmup = ic.SenkouPeriods - 1
	return nil
}

// rollingMidpoint computes (highest high + lowest low) / 2 over an inclusive
// window ending at each index. The window start is clamped at zero, so
// leading values use whatever history exists.
func rollingMidpoint(highs, lows []float64, window int) []float64 {
	out := make([]float64, len(highs))
	for i := range highs {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		hh := math.Inf(-1)
		ll := math.Inf(1)
		for j := start; j <= i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		out[i] = (hh + ll) / 2.0
	}
	return out
}

// wilderATR seeds with the SMA of the first N true ranges and then applies
// Wilder's smoothing. Indices before the seed are backfilled with the mean
// of the defined values.
func wilderATR(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	out := make([]float64, n)
	if n < period+1 {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	out[period] = atr

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}

	var sum float64
	defined := 0
	for i := period; i < n; i++ {
		sum += out[i]
		defined++
	}
	mean := sum / float64(defined)
	for i := 0; i < period; i++ {
		out[i] = mean
	}
	return out
}

// volumeSMA is a simple rolling mean; positions before the window is full
// fall back to the raw volume at that bar.
func volumeSMA(vol []float64, window int) []float64 {
	out := make([]float64, len(vol))
	var running float64
	for i := range vol {
		running += vol[i]
		if i >= window {
			running -= vol[i-window]
		}
		if i >= window-1 {
			out[i] = running / float64(window)
		} else {
			out[i] = vol[i]
		}
	}
	return out
}

// wilderRSI computes the relative-strength index with Wilder smoothing.
// Positions before the first full window report the neutral 50.
func wilderRSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = 50
	}
	if n <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
