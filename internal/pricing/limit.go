// Package pricing computes sell-side limit prices for put options between
// the bid and the bid-ask midpoint, and walks them down toward a floor
// when an order fails to fill.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidSpread is returned when bid > ask.
var ErrInvalidSpread = errors.New("pricing: bid greater than ask")

// DefaultRatio is the fraction of the bid-to-mid distance added to bid.
var DefaultRatio = decimal.NewFromFloat(0.30)

// SellLimit computes bid + (mid-bid)*ratio, rounded to a cent, clamped so
// the result never falls below bid. Returns ErrInvalidSpread if bid > ask.
func SellLimit(bid, ask, ratio decimal.Decimal) (decimal.Decimal, error) {
	if bid.GreaterThan(ask) {
		return decimal.Zero, ErrInvalidSpread
	}
	if !bid.IsPositive() {
		return decimal.Zero, nil
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	result := bid.Add(mid.Sub(bid).Mul(ratio)).Round(2)
	if result.LessThan(bid) {
		result = bid.Round(2)
	}
	return result, nil
}

// AdjustDown lowers currentLimit by increment, clamps up to currentBid, and
// rejects the adjustment (ok=false) if attempt exceeds maxAdjustments or the
// result would fall below floor.
func AdjustDown(currentLimit, currentBid, increment, floor decimal.Decimal, attempt, maxAdjustments int) (newLimit decimal.Decimal, ok bool) {
	if attempt > maxAdjustments {
		return decimal.Zero, false
	}
	next := currentLimit.Sub(increment).Round(2)
	if next.LessThan(currentBid) {
		next = currentBid.Round(2)
	}
	if next.LessThan(floor) {
		return decimal.Zero, false
	}
	return next, true
}

// ValidateVsBid reports whether (limit-bid)/bid <= tolerance.
func ValidateVsBid(limit, bid, tolerance decimal.Decimal) bool {
	if bid.IsZero() {
		return false
	}
	dev := limit.Sub(bid).Div(bid)
	return dev.LessThanOrEqual(tolerance)
}
