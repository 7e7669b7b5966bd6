package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cfdbacktest/services/config"
)

// riskState is the account state persisted across the whole run. It is
// owned by the engine and mutated only at trade open/close boundaries.
type riskState struct {
	capital           decimal.Decimal
	peakCapital       decimal.Decimal
	consecutiveLosses int
	tradesToday       int
	lastTradeTime     time.Time // zero until the first trade
	lastTradeSide     Side
}

func newRiskState(c config.Capital) *riskState {
	initial := decimal.NewFromFloat(c.Initial)
	return &riskState{capital: initial, peakCapital: initial}
}

// RiskGovernor guards every entry attempt with account-level rules. The
// checks are independent; they run in a fixed order so the reported reason
// is deterministic, but any single failure blocks entry.
type RiskGovernor struct {
	risk       config.Risk
	minCapital decimal.Decimal
	state      *riskState
}

// NewRiskGovernor wires the governor to the shared account state.
func NewRiskGovernor(risk config.Risk, capital config.Capital, st *riskState) *RiskGovernor {
	return &RiskGovernor{
		risk:       risk,
		minCapital: decimal.NewFromFloat(capital.MinRequired),
		state:      st,
	}
}

// Approve reports whether a new entry is permitted at now, with the first
// failing rule as the reason. The daily trade counter resets whenever the
// evaluated calendar date differs from the last trade's date.
func (g *RiskGovernor) Approve(now time.Time) (bool, string) {
	st := g.state

	if st.consecutiveLosses >= g.risk.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", st.consecutiveLosses)
	}

	if !st.lastTradeTime.IsZero() && sameDate(now, st.lastTradeTime) {
		if st.tradesToday >= g.risk.MaxTradesPerDay {
			return false, fmt.Sprintf("max trades per day reached: %d", st.tradesToday)
		}
	} else {
		st.tradesToday = 0
	}

	if !st.lastTradeTime.IsZero() {
		cooldown := time.Duration(g.risk.CooldownMinutes) * time.Minute
		if now.Sub(st.lastTradeTime) < cooldown {
			return false, "cooldown period active"
		}
	}

	if st.capital.LessThan(g.minCapital) {
		return false, fmt.Sprintf("capital below floor: $%s", st.capital.StringFixed(2))
	}

	return true, "risk checks passed"
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
