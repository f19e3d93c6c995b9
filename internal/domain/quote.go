package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a bid/ask/last snapshot for an option contract or underlying.
// A quote with Valid=false must not be used for pricing; Reason explains why.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Volume    int64
	Timestamp time.Time
	Valid     bool
	Reason    string
}

// NewQuote validates bid/ask/last per the pipeline's tradeability rule: a
// quote is valid iff bid and ask are both positive, or last is positive.
func NewQuote(bid, ask, last decimal.Decimal, volume int64, at time.Time) Quote {
	q := Quote{Bid: bid, Ask: ask, Last: last, Volume: volume, Timestamp: at}
	switch {
	case bid.IsPositive() && ask.IsPositive():
		q.Valid = true
	case last.IsPositive():
		q.Valid = true
	default:
		q.Reason = "no valid bid/ask or last"
	}
	return q
}

// Midpoint returns (bid+ask)/2. Callers must check Valid first.
func (q Quote) Midpoint() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// SpreadFraction returns (ask-bid)/bid, or a large sentinel if bid is zero.
func (q Quote) SpreadFraction() decimal.Decimal {
	if q.Bid.IsZero() {
		return decimal.NewFromInt(1)
	}
	return q.Ask.Sub(q.Bid).Div(q.Bid)
}

// Tradeable reports whether a valid put quote meets the minimum premium.
func (q Quote) Tradeable(premiumMin decimal.Decimal) bool {
	return q.Valid && q.Bid.GreaterThanOrEqual(premiumMin)
}

// Contract identifies one option instrument.
type Contract struct {
	Symbol     string
	Strike     decimal.Decimal
	Expiration time.Time
	Right      string // "PUT" or "CALL"
	ConID      int64  // broker-assigned contract id, set after qualification
}

// Greeks is a point-in-time option Greeks snapshot for one contract.
type Greeks struct {
	Delta         float64
	IV            float64
	Gamma         float64
	Theta         float64
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	Volume        int64
	OpenInterest  int64
}
