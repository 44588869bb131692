// Package trading provides trading calculation utilities.
package trading

import "github.com/shopspring/decimal"

// CloseQuantity computes the quantity to close for a ratio of the position.
// If ofInitial is true the ratio applies to initialQty. The result is capped at currentQty
// and never negative.
func CloseQuantity(currentQty, initialQty, ratio decimal.Decimal, ofInitial bool) decimal.Decimal {
	if !currentQty.IsPositive() || !ratio.IsPositive() {
		return decimal.Zero
	}
	base := currentQty
	if ofInitial && initialQty.IsPositive() {
		base = initialQty
	}
	qty := base.Mul(ratio)
	if qty.GreaterThan(currentQty) {
		return currentQty
	}
	return qty
}

// PnL returns the signed profit of moving qty from entry to exit for the given side.
func PnL(long bool, entry, exit, qty decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
