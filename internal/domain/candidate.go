package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CandidateState is the lifecycle state of a staged opportunity as it
// moves through validation, strike selection, and execution.
type CandidateState string

const (
	StateStaged    CandidateState = "STAGED"
	StateReady     CandidateState = "READY"
	StateConfirmed CandidateState = "CONFIRMED"
	StateExecuted  CandidateState = "EXECUTED"
	StateFailed    CandidateState = "FAILED"
	StateExpired   CandidateState = "EXPIRED"
	StateRejected  CandidateState = "REJECTED"
	StateStale     CandidateState = "STALE"
)

// Terminal reports whether the state is one the pipeline no longer acts on.
func (s CandidateState) Terminal() bool {
	switch s {
	case StateExecuted, StateFailed, StateExpired, StateRejected, StateStale:
		return true
	}
	return false
}

// StrikeSelectionMethod records how the effective strike was decided.
type StrikeSelectionMethod string

const (
	StrikeMethodUnchanged   StrikeSelectionMethod = "unchanged"
	StrikeMethodDelta       StrikeSelectionMethod = "delta"
	StrikeMethodOTMFraction StrikeSelectionMethod = "otm_fraction"
)

// Candidate is a weekend-selected put option the pipeline will attempt to
// sell on the following market session. Its fields are grouped into three
// layers: staged (set by the screener and never mutated by the core),
// live overrides (populated while the pipeline runs), and lifecycle.
type Candidate struct {
	ID int64

	Symbol     string
	Strike     decimal.Decimal
	Expiration time.Time
	OptionType string // always "PUT" for this pipeline

	// Staged, immutable.
	StagedStockPrice decimal.Decimal
	StagedLimitPrice decimal.Decimal
	StagedContracts  int
	StagedMargin     decimal.Decimal
	OTMFraction      decimal.Decimal
	Reasoning        string
	Confidence       float64

	// Live overrides.
	CurrentStockPrice     decimal.Decimal
	CurrentBid            decimal.Decimal
	CurrentAsk            decimal.Decimal
	AdjustedStrike        decimal.Decimal
	AdjustedLimitPrice    decimal.Decimal
	LiveDelta             float64
	LiveIV                float64
	LiveGamma             float64
	LiveTheta             float64
	LiveVolume            int64
	LiveOpenInterest      int64
	StrikeSelectionMethod StrikeSelectionMethod

	State CandidateState
}

// EffectiveStrike returns AdjustedStrike when strike re-selection has set
// one, otherwise the originally staged Strike.
func (c Candidate) EffectiveStrike() decimal.Decimal {
	if !c.AdjustedStrike.IsZero() {
		return c.AdjustedStrike
	}
	return c.Strike
}

// EffectiveLimit returns AdjustedLimitPrice when the pipeline has recomputed
// one, otherwise the originally staged StagedLimitPrice.
func (c Candidate) EffectiveLimit() decimal.Decimal {
	if !c.AdjustedLimitPrice.IsZero() {
		return c.AdjustedLimitPrice
	}
	return c.StagedLimitPrice
}

// CurrentOTMFraction computes (underlying - strike) / underlying against the
// candidate's live stock price and effective strike. Returns zero if the
// live stock price has not been populated yet.
func (c Candidate) CurrentOTMFraction() decimal.Decimal {
	if c.CurrentStockPrice.IsZero() {
		return decimal.Zero
	}
	diff := c.CurrentStockPrice.Sub(c.EffectiveStrike())
	return diff.Div(c.CurrentStockPrice)
}

// DTE returns days-to-expiration relative to t.
func (c Candidate) DTE(t time.Time) int {
	d := c.Expiration.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
