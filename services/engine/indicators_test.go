package engine

import (
	"errors"
	"math"
	"testing"

	"cfdbacktest/services/config"
)

func testIndicators() config.Indicators {
	return config.Indicators{
		TenkanPeriods:    3,
		KijunPeriods:     5,
		SenkouPeriods:    8,
		ATRPeriods:       3,
		VolumeSMAPeriods: 3,
		RSIPeriods:       3,
	}
}

func mustSeries(t *testing.T, bars []Bar) *Series {
	t.Helper()
	s, err := NewSeries(bars)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestComputeIndicatorsInsufficientData(t *testing.T) {
	bars := make([]Bar, 5)
	for i := range bars {
		bars[i] = flatBar(int64(i)*1000, 100, 10)
	}
	s := mustSeries(t, bars)

	err := ComputeIndicators(s, testIndicators())
	var ide *InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if ide.Needed != 8 || ide.Got != 5 {
		t.Fatalf("unexpected error detail: %+v", ide)
	}
}

func TestMinBars(t *testing.T) {
	ic := testIndicators()
	if got := MinBars(ic); got != 8 {
		t.Fatalf("MinBars = %d, want 8", got)
	}
	ic.VolumeSMAPeriods = 20
	if got := MinBars(ic); got != 20 {
		t.Fatalf("MinBars = %d, want 20", got)
	}
}

func TestRollingMidpoint(t *testing.T) {
	highs := []float64{10, 12, 14, 16, 18}
	lows := []float64{8, 9, 10, 11, 12}
	got := rollingMidpoint(highs, lows, 3)

	// Window clamped at zero until full.
	want := []float64{
		(10 + 8) / 2.0,
		(12 + 8) / 2.0,
		(14 + 8) / 2.0,
		(16 + 9) / 2.0,
		(18 + 10) / 2.0,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("midpoint[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWilderATRConstantRange(t *testing.T) {
	// Every bar spans exactly 2 points around a flat close, so every true
	// range is 2 and both the seed and the smoothed values are 2.
	n := 12
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = priceBar(int64(i)*1000, 10, 11, 9, 10, 5)
	}
	s := mustSeries(t, bars)
	if err := ComputeIndicators(s, testIndicators()); err != nil {
		t.Fatal(err)
	}
	for i, v := range s.ATR {
		if math.Abs(v-2) > 1e-12 {
			t.Errorf("ATR[%d] = %v, want 2", i, v)
		}
	}
}

func TestWilderRSIBounds(t *testing.T) {
	n := 12
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = flatBar(int64(i)*1000, 100+float64(i), 5)
	}
	s := mustSeries(t, bars)
	ic := testIndicators()
	if err := ComputeIndicators(s, ic); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < ic.RSIPeriods; i++ {
		if s.RSI[i] != 50 {
			t.Errorf("RSI[%d] = %v, want neutral 50 before window", i, s.RSI[i])
		}
	}
	for i := ic.RSIPeriods; i < n; i++ {
		if s.RSI[i] != 100 {
			t.Errorf("RSI[%d] = %v, want 100 on monotone rise", i, s.RSI[i])
		}
	}
}

func TestVolumeSMA(t *testing.T) {
	got := volumeSMA([]float64{3, 6, 9, 12, 15}, 3)
	want := []float64{3, 6, 6, 9, 12}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("volumeSMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestComputeIndicatorsClampsNegativeVolume(t *testing.T) {
	n := 10
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = flatBar(int64(i)*1000, 100, 5)
	}
	bars[4] = priceBar(4000, 100, 100, 100, 100, -7)
	s := mustSeries(t, bars)
	if err := ComputeIndicators(s, testIndicators()); err != nil {
		t.Fatal(err)
	}
	if s.Vol[4] != 0 {
		t.Fatalf("Vol[4] = %v, want clamped 0", s.Vol[4])
	}
	// The raw bar is untouched; only the computed column is sanitized.
	if s.Bars[4].Volume.IsZero() {
		t.Fatal("raw bar volume must not be mutated")
	}
}

func TestSpanAIsMeanOfLines(t *testing.T) {
	n := 10
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = priceBar(int64(i)*1000, 100, 100+float64(i), 95, 98+float64(i), 5)
	}
	s := mustSeries(t, bars)
	if err := ComputeIndicators(s, testIndicators()); err != nil {
		t.Fatal(err)
	}
	for i := range s.SpanA {
		want := (s.Tenkan[i] + s.Kijun[i]) / 2
		if s.SpanA[i] != want {
			t.Errorf("SpanA[%d] = %v, want %v", i, s.SpanA[i], want)
		}
	}
}

func TestChikouTailIsNaN(t *testing.T) {
	n := 10
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = flatBar(int64(i)*1000, 100+float64(i), 5)
	}
	s := mustSeries(t, bars)
	ic := testIndicators()
	if err := ComputeIndicators(s, ic); err != nil {
		t.Fatal(err)
	}
	for i := n - ic.KijunPeriods; i < n; i++ {
		if !math.IsNaN(s.Chikou[i]) {
			t.Errorf("Chikou[%d] = %v, want NaN at tail", i, s.Chikou[i])
		}
	}
	if s.Chikou[0] != 105 {
		t.Errorf("Chikou[0] = %v, want close at index 5", s.Chikou[0])
	}
}
