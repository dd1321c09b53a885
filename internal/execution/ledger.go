package execution

import (
	"github.com/shopspring/decimal"

	"github.com/autovant/reflex/internal/domain"
)

// ApplyFill mutates position and account in place per a Fill's ack,
// computing VWAP entry price and realized PnL exactly as the teacher's
// applyPositionFill does, translated to decimal money. Unrealized PnL is
// left to the next Physics-driven mark, not recomputed here.
func ApplyFill(position *domain.Position, account *domain.AccountState, fill Fill) {
	if fill.Rejected || fill.Order.Status != domain.OrderStatusFilled {
		return
	}

	signed := fill.Order.Quantity
	if fill.Order.Side == domain.SideSell {
		signed = signed.Neg()
	}

	size := position.NetSize
	avg := position.AvgEntryPrice
	realized := decimal.Zero

	sameSignOrFlat := size.IsZero() || (size.IsPositive() && signed.IsPositive()) || (size.IsNegative() && signed.IsNegative())
	if sameSignOrFlat {
		newSize := size.Add(signed)
		totalQty := size.Abs().Add(fill.Order.Quantity)
		if totalQty.IsPositive() {
			avg = avg.Mul(size.Abs()).Add(fill.FillPrice.Mul(fill.Order.Quantity)).Div(totalQty)
		}
		position.NetSize = newSize
		position.AvgEntryPrice = avg
	} else {
		closing := decimal.Min(size.Abs(), fill.Order.Quantity)
		if size.IsPositive() {
			realized = fill.FillPrice.Sub(avg).Mul(closing)
		} else {
			realized = avg.Sub(fill.FillPrice).Mul(closing)
		}
		remaining := size.Abs().Sub(closing)
		if remaining.IsPositive() {
			sign := decimal.NewFromInt(1)
			if size.IsNegative() {
				sign = decimal.NewFromInt(-1)
			}
			position.NetSize = remaining.Mul(sign)
		} else {
			leftover := fill.Order.Quantity.Sub(closing)
			if leftover.IsPositive() {
				position.NetSize = leftover.Mul(decimal.NewFromInt(1)).Mul(signOf(signed))
				position.AvgEntryPrice = fill.FillPrice
			} else {
				position.NetSize = decimal.Zero
				position.AvgEntryPrice = decimal.Zero
			}
		}
	}
	position.CurrentPrice = fill.FillPrice

	netPnL := realized.Sub(fill.Fees)
	account.Cash = account.Cash.Add(netPnL)
	account.NAV = account.NAV.Add(netPnL)
	account.UpdateDrawdown()
}

func signOf(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}
