package domain

import "github.com/shopspring/decimal"

// AccountState is mutated by Execution on fills and read by the risk
// governor. Money fields use decimal to avoid float drift across many
// small fills; physics and sizing math elsewhere stays float64.
type AccountState struct {
	Cash          decimal.Decimal
	Equity        decimal.Decimal
	NAV           decimal.Decimal
	HighWaterMark decimal.Decimal
	DrawdownPct   float64
}

// UpdateDrawdown recomputes DrawdownPct and HighWaterMark from the
// current NAV. Call after every equity-affecting mutation.
func (a *AccountState) UpdateDrawdown() {
	if a.NAV.GreaterThan(a.HighWaterMark) {
		a.HighWaterMark = a.NAV
	}
	if a.HighWaterMark.IsZero() {
		a.DrawdownPct = 0
		return
	}
	drop := a.HighWaterMark.Sub(a.NAV)
	a.DrawdownPct, _ = drop.Div(a.HighWaterMark).Float64()
}

// Position is keyed uniquely by symbol. The governor may only reduce
// Size while Hibernation is active.
type Position struct {
	Symbol         string
	NetSize        decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	EntryTs        int64
	CurrentPrice   decimal.Decimal
}

// Reducing reports whether a trade of the given signed delta (positive
// buy, negative sell) would only shrink the position's absolute size.
func (p Position) Reducing(deltaSize decimal.Decimal) bool {
	if p.NetSize.IsZero() {
		return false
	}
	sameSign := (p.NetSize.IsPositive() && deltaSize.IsPositive()) ||
		(p.NetSize.IsNegative() && deltaSize.IsNegative())
	if sameSign {
		return false
	}
	return deltaSize.Abs().LessThanOrEqual(p.NetSize.Abs())
}
