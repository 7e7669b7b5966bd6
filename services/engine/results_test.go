package engine

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func pnlTrade(pnl float64) ClosedTrade {
	return ClosedTrade{ProfitLoss: decimal.NewFromFloat(pnl)}
}

func TestAggregateEmptyLog(t *testing.T) {
	s := Aggregate(nil, decimal.NewFromInt(1000))
	if s.TotalTrades != 0 || s.Wins != 0 || s.Losses != 0 {
		t.Fatalf("empty log must report zero counts: %+v", s)
	}
	if !s.FinalCapital.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("final capital = %s, want initial 1000", s.FinalCapital)
	}
	if !s.ROI.IsZero() {
		t.Fatalf("ROI = %s, want 0", s.ROI)
	}
}

func TestAggregateMixedLog(t *testing.T) {
	trades := []ClosedTrade{pnlTrade(30), pnlTrade(-10), pnlTrade(20)}
	s := Aggregate(trades, decimal.NewFromInt(1000))

	if s.TotalTrades != 3 || s.Wins != 2 || s.Losses != 1 {
		t.Fatalf("counts: %+v", s)
	}
	if !s.TotalProfit.Equal(decimal.NewFromInt(40)) {
		t.Errorf("total profit = %s, want 40", s.TotalProfit)
	}
	if !s.GrossProfit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("gross profit = %s, want 50", s.GrossProfit)
	}
	if !s.GrossLoss.Equal(decimal.NewFromInt(10)) {
		t.Errorf("gross loss = %s, want 10 (absolute)", s.GrossLoss)
	}
	if !s.ProfitFactor.Value.Equal(decimal.NewFromInt(5)) || s.ProfitFactor.Infinite {
		t.Errorf("profit factor = %s, want 5", s.ProfitFactor)
	}
	if !s.AvgWin.Equal(decimal.NewFromInt(25)) {
		t.Errorf("avg win = %s, want 25", s.AvgWin)
	}
	if !s.AvgLoss.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("avg loss = %s, want -10", s.AvgLoss)
	}
	if !s.FinalCapital.Equal(decimal.NewFromInt(1040)) {
		t.Errorf("final capital = %s, want 1040", s.FinalCapital)
	}
	if !s.ROI.Equal(decimal.NewFromInt(4)) {
		t.Errorf("ROI = %s, want 4%%", s.ROI)
	}

	// Curve 1030, 1020, 1040; the dip is 10 off the 1030 peak.
	wantCurve := []decimal.Decimal{
		decimal.NewFromInt(1030), decimal.NewFromInt(1020), decimal.NewFromInt(1040),
	}
	for i, c := range s.CapitalCurve {
		if !c.Equal(wantCurve[i]) {
			t.Errorf("curve[%d] = %s, want %s", i, c, wantCurve[i])
		}
	}
	wantDD := decimal.NewFromInt(10).Div(decimal.NewFromInt(1030)).Mul(hundred)
	if !s.MaxDrawdown.Equal(wantDD) {
		t.Errorf("max drawdown = %s, want %s", s.MaxDrawdown, wantDD)
	}
}

func TestAggregateInfiniteProfitFactor(t *testing.T) {
	s := Aggregate([]ClosedTrade{pnlTrade(10), pnlTrade(5)}, decimal.NewFromInt(1000))
	if !s.ProfitFactor.Infinite {
		t.Fatalf("no losses must report an infinite profit factor: %+v", s.ProfitFactor)
	}
	if s.ProfitFactor.String() != "inf" {
		t.Fatalf("String() = %q, want inf", s.ProfitFactor.String())
	}
}

func TestAggregateZeroPnLCountsAsLoss(t *testing.T) {
	s := Aggregate([]ClosedTrade{pnlTrade(0)}, decimal.NewFromInt(1000))
	if s.Losses != 1 || s.Wins != 0 {
		t.Fatalf("zero P&L must count as a loss: %+v", s)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	trades := []ClosedTrade{pnlTrade(30), pnlTrade(-10), pnlTrade(20)}
	a := Aggregate(trades, decimal.NewFromInt(1000))
	b := Aggregate(trades, decimal.NewFromInt(1000))
	if !reflect.DeepEqual(a, b) {
		t.Fatal("aggregating the same log twice must yield identical summaries")
	}
}
