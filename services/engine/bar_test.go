package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func priceBar(ts int64, o, h, l, c, v float64) Bar {
	return Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
	}
}

// flatBar builds a degenerate bar at a single price, handy for fixtures.
func flatBar(ts int64, p, v float64) Bar {
	return priceBar(ts, p, p, p, p, v)
}

func TestNewSeriesRejectsDuplicateTimestamps(t *testing.T) {
	bars := []Bar{
		flatBar(1000, 100, 1),
		flatBar(2000, 101, 1),
		flatBar(2000, 102, 1),
	}
	if _, err := NewSeries(bars); err == nil {
		t.Fatal("expected duplicate-timestamp error")
	}
}

func TestNewSeriesRejectsUnsortedTimestamps(t *testing.T) {
	bars := []Bar{
		flatBar(2000, 100, 1),
		flatBar(1000, 101, 1),
	}
	if _, err := NewSeries(bars); err == nil {
		t.Fatal("expected not-ascending error")
	}
}

func TestNewSeriesRejectsNonPositivePrices(t *testing.T) {
	bars := []Bar{priceBar(1000, 100, 100, -1, 100, 1)}
	if _, err := NewSeries(bars); err == nil {
		t.Fatal("expected non-positive price error")
	}
}

func TestAtOrBefore(t *testing.T) {
	s, err := NewSeries([]Bar{
		flatBar(1000, 100, 1),
		flatBar(2000, 101, 1),
		flatBar(3000, 102, 1),
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		ts   int64
		want int
	}{
		{500, -1},
		{1000, 0},
		{1500, 0},
		{2000, 1},
		{2999, 1},
		{3000, 2},
		{9999, 2},
	}
	for _, tc := range cases {
		if got := s.AtOrBefore(tc.ts); got != tc.want {
			t.Errorf("AtOrBefore(%d) = %d, want %d", tc.ts, got, tc.want)
		}
	}
}

func TestDetectGaps(t *testing.T) {
	s, err := NewSeries([]Bar{
		flatBar(0, 100, 1),
		flatBar(1000, 100, 1),
		flatBar(5000, 100, 1), // gap after 1000
		flatBar(6000, 100, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	gaps := s.DetectGaps(1000)
	if len(gaps) != 1 || gaps[0] != 1000 {
		t.Fatalf("expected one gap after ts=1000, got %v", gaps)
	}
}
