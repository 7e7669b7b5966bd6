package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV sample. Timestamps are Unix milliseconds, UTC.
// Bars are immutable once a Series is built around them.
type Bar struct {
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Time returns the bar timestamp as UTC wall-clock time.
func (b Bar) Time() time.Time { return time.UnixMilli(b.Timestamp).UTC() }

// Series is an ordered run of bars for one timeframe plus the indicator
// columns computed over them. The entry and trend timeframes are separate
// Series and are never required to align bar-for-bar; the trend series is
// queried with AtOrBefore.
type Series struct {
	Bars []Bar

	// Indicator columns, parallel to Bars. Populated by ComputeIndicators.
	Tenkan []float64 // conversion line
	Kijun  []float64 // base line
	SpanA  []float64 // cloud boundary A, unshifted
	SpanB  []float64 // cloud boundary B, unshifted
	Chikou []float64 // lagging span, informational only
	ATR    []float64
	VolSMA []float64
	RSI    []float64

	// Vol is the sanitized volume column: negatives clamped to zero.
	Vol []float64

	// spanWarmup is the first index whose cloud boundaries are computed
	// from a full long window; earlier bars carry no usable cloud and
	// classify as neutral.
	spanWarmup int
}

// NewSeries validates bar integrity and wraps the bars. Timestamps must be
// strictly increasing; a duplicate timestamp is a data-integrity error, not
// something to dedupe silently.
func NewSeries(bars []Bar) (*Series, error) {
	for i, b := range bars {
		if b.Open.Sign() <= 0 || b.High.Sign() <= 0 || b.Low.Sign() <= 0 || b.Close.Sign() <= 0 {
			return nil, fmt.Errorf("bar %d (%s): non-positive price", i, b.Time().Format("2006-01-02 15:04"))
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1]
		if b.Timestamp == prev.Timestamp {
			return nil, fmt.Errorf("duplicate timestamp at bar %d: %s", i, b.Time().Format("2006-01-02 15:04"))
		}
		if b.Timestamp < prev.Timestamp {
			return nil, fmt.Errorf("timestamps not ascending at bar %d: %s", i, b.Time().Format("2006-01-02 15:04"))
		}
	}
	return &Series{Bars: bars}, nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// AtOrBefore returns the index of the most recent bar with timestamp <= ts,
// or -1 when no such bar exists yet.
func (s *Series) AtOrBefore(ts int64) int {
	i := sort.Search(len(s.Bars), func(j int) bool { return s.Bars[j].Timestamp > ts })
	return i - 1
}

// DetectGaps returns, for each missing interval, the timestamp of the bar
// preceding the gap. Gaps are a data-quality signal, never fatal.
func (s *Series) DetectGaps(expectedStepMs int64) []int64 {
	var gaps []int64
	for i := 1; i < len(s.Bars); i++ {
		if s.Bars[i].Timestamp-s.Bars[i-1].Timestamp > expectedStepMs {
			gaps = append(gaps, s.Bars[i-1].Timestamp)
		}
	}
	return gaps
}
