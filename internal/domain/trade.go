package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeState is the persisted lifecycle state of a Trade row.
type TradeState string

const (
	TradePending TradeState = "PENDING"
	TradeFilled  TradeState = "FILLED"
)

// Trade is the persisted record of one submitted or filled order. TradeID
// is a stable logical identifier computed once, from the effective
// (post-adjustment) strike, at the moment of first persistence; it is
// never recomputed even if the order is later cancelled and replaced,
// since a submitted order's strike cannot change. OrderID is the durable
// de-duplication key for upserts within one session.
type Trade struct {
	TradeID string
	OrderID string

	Symbol     string
	Strike     decimal.Decimal
	Expiration time.Time
	OptionType string

	EntryDate    time.Time
	EntryPremium decimal.Decimal
	Contracts    int
	OTMFraction  decimal.Decimal
	DTE          int

	Reasoning  string
	Confidence float64

	State TradeState
}

// NewTradeID derives the canonical trade identifier from the symbol,
// effective strike, expiration date, and option type letter.
func NewTradeID(symbol string, strike decimal.Decimal, expiration time.Time, optionType string) string {
	letter := "P"
	if optionType == "CALL" {
		letter = "C"
	}
	return fmt.Sprintf("%s_%s_%s_%s", symbol, strike.StringFixed(2), expiration.Format("20060102"), letter)
}
