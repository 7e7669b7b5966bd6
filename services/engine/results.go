package engine

import (
	"github.com/shopspring/decimal"
)

// ProfitFactor carries an explicit infinite tag for the no-losses case
// instead of a magic float.
type ProfitFactor struct {
	Value    decimal.Decimal `json:"value"`
	Infinite bool            `json:"infinite"`
}

func (p ProfitFactor) String() string {
	if p.Infinite {
		return "inf"
	}
	return p.Value.StringFixed(2)
}

// Summary aggregates a trade log into performance statistics. It is a pure
// function of the log: aggregating the same log twice yields identical
// values.
type Summary struct {
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     decimal.Decimal `json:"win_rate"` // percent

	TotalProfit  decimal.Decimal `json:"total_profit"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"` // absolute value
	ProfitFactor ProfitFactor    `json:"profit_factor"`
	AvgWin       decimal.Decimal `json:"avg_win"`
	AvgLoss      decimal.Decimal `json:"avg_loss"` // mean losing P&L, typically negative

	CapitalCurve []decimal.Decimal `json:"capital_curve"`
	DrawdownPct  []decimal.Decimal `json:"drawdown_pct"`
	MaxDrawdown  decimal.Decimal   `json:"max_drawdown"` // percent
	FinalCapital decimal.Decimal   `json:"final_capital"`
	ROI          decimal.Decimal   `json:"roi"` // percent
}

var hundred = decimal.NewFromInt(100)

// Aggregate computes the summary over a trade log. An empty log reports
// zeros everywhere except the final capital, which stays at the initial
// value. Trades with P&L exactly zero count as losses, matching the
// consecutive-loss accounting.
func Aggregate(trades []ClosedTrade, initialCapital decimal.Decimal) Summary {
	s := Summary{FinalCapital: initialCapital}
	if len(trades) == 0 {
		return s
	}

	s.TotalTrades = len(trades)
	s.CapitalCurve = make([]decimal.Decimal, 0, len(trades))
	s.DrawdownPct = make([]decimal.Decimal, 0, len(trades))

	capital := initialCapital
	peak := initialCapital

	for _, t := range trades {
		s.TotalProfit = s.TotalProfit.Add(t.ProfitLoss)
		if t.ProfitLoss.Sign() > 0 {
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(t.ProfitLoss)
		} else {
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(t.ProfitLoss.Abs())
			s.AvgLoss = s.AvgLoss.Add(t.ProfitLoss)
		}

		capital = capital.Add(t.ProfitLoss)
		if capital.GreaterThan(peak) {
			peak = capital
		}
		dd := peak.Sub(capital).Div(peak).Mul(hundred)
		s.CapitalCurve = append(s.CapitalCurve, capital)
		s.DrawdownPct = append(s.DrawdownPct, dd)
		if dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}

	s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.TotalTrades))).Mul(hundred)
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = s.AvgLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	if s.GrossLoss.Sign() > 0 {
		s.ProfitFactor = ProfitFactor{Value: s.GrossProfit.Div(s.GrossLoss)}
	} else {
		s.ProfitFactor = ProfitFactor{Infinite: true}
	}

	s.FinalCapital = capital
	if initialCapital.Sign() > 0 {
		s.ROI = capital.Div(initialCapital).Sub(decimal.NewFromInt(1)).Mul(hundred)
	}
	return s
}
