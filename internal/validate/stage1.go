// Package validate implements the pre-open (Stage 1) underlying-price
// check and the at-open (Stage 2) premium check that gate a candidate
// into the execution pipeline.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// underlyingSource is the narrow slice of ports.Broker that Stage1 needs.
// Accepting this instead of the full broker interface keeps the dependency
// honest and lets callers satisfy it with a minimal fake in tests.
type underlyingSource interface {
	GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
}

// Stage1Status is the outcome of validating one candidate against the
// live underlying price.
type Stage1Status string

const (
	Stage1Ready    Stage1Status = "READY"
	Stage1Adjusted Stage1Status = "ADJUSTED"
	Stage1Stale    Stage1Status = "STALE"
)

// Stage1Result carries the status plus, when Adjusted, the new strike.
type Stage1Result struct {
	CandidateID int64
	Status      Stage1Status
	NewStrike   decimal.Decimal
	Deviation   decimal.Decimal
	Reason      string
}

// Stage1Config holds the deviation bands and OTM floors for re-selection.
type Stage1Config struct {
	MaxDeviationReady  decimal.Decimal
	MaxDeviationAdjust decimal.Decimal
	MaxDeviationStale  decimal.Decimal
	MinOTMStandard     decimal.Decimal
	MinOTMAggressive   decimal.Decimal
}

// Stage1 runs the pre-open underlying-price check for one candidate. It
// mutates c.CurrentStockPrice and, on a viable adjustment, c.AdjustedStrike
// and c.StrikeSelectionMethod. chainLookup reports whether a given strike
// exists in the chain for the candidate's expiration; a computed strike
// absent from the chain is no viable adjustment (STALE).
func Stage1(ctx context.Context, broker underlyingSource, cfg Stage1Config, c *domain.Candidate, chainLookup func(ctx context.Context, symbol string, candidate domain.Candidate, strike decimal.Decimal) (bool, error)) (Stage1Result, error) {
	price, ok, err := broker.GetStockPrice(ctx, c.Symbol)
	if err != nil {
		return Stage1Result{}, fmt.Errorf("validate.Stage1: %s: %w", c.Symbol, err)
	}
	if !ok {
		return Stage1Result{CandidateID: c.ID, Status: Stage1Stale, Reason: "no underlying price"}, nil
	}
	c.CurrentStockPrice = price

	deviation := price.Sub(c.StagedStockPrice).Div(c.StagedStockPrice)
	absDev := deviation.Abs()

	res := Stage1Result{CandidateID: c.ID, Deviation: deviation}

	switch {
	case absDev.LessThan(cfg.MaxDeviationReady):
		res.Status = Stage1Ready
		return res, nil
	case absDev.LessThan(cfg.MaxDeviationAdjust):
		return reselect(ctx, c, price, cfg.MinOTMStandard, chainLookup, res)
	case absDev.LessThan(cfg.MaxDeviationStale):
		return reselect(ctx, c, price, cfg.MinOTMAggressive, chainLookup, res)
	default:
		res.Status = Stage1Stale
		res.Reason = "deviation beyond stale threshold"
		return res, nil
	}
}

func reselect(ctx context.Context, c *domain.Candidate, underlying, otmFloor decimal.Decimal, chainLookup func(context.Context, string, domain.Candidate, decimal.Decimal) (bool, error), res Stage1Result) (Stage1Result, error) {
	newStrike := roundToInterval(underlying.Mul(decimal.NewFromInt(1).Sub(otmFloor)), strikeInterval(underlying))

	if !newStrike.LessThan(underlying) {
		res.Status = Stage1Stale
		res.Reason = "no viable adjustment: new strike not below underlying"
		return res, nil
	}
	actualOTM := underlying.Sub(newStrike).Div(underlying)
	if actualOTM.LessThan(otmFloor) {
		res.Status = Stage1Stale
		res.Reason = "no viable adjustment: OTM floor not met"
		return res, nil
	}

	exists, err := chainLookup(ctx, c.Symbol, *c, newStrike)
	if err != nil {
		return res, fmt.Errorf("validate.reselect: chain lookup: %w", err)
	}
	if !exists {
		res.Status = Stage1Stale
		res.Reason = "no viable adjustment: strike absent from chain"
		slog.Debug("stage1 re-selection rejected, strike not in chain", "symbol", c.Symbol, "strike", newStrike)
		return res, nil
	}

	c.AdjustedStrike = newStrike
	c.StrikeSelectionMethod = domain.StrikeMethodOTMFraction
	res.Status = Stage1Adjusted
	res.NewStrike = newStrike
	return res, nil
}

// strikeInterval picks the interval for rounding a computed strike from a
// fixed price band; the interval is not derived from the option chain.
func strikeInterval(underlying decimal.Decimal) decimal.Decimal {
	switch {
	case underlying.LessThan(decimal.NewFromInt(25)):
		return decimal.NewFromFloat(0.50)
	case underlying.LessThan(decimal.NewFromInt(500)):
		return decimal.NewFromInt(1)
	default:
		return decimal.NewFromInt(5)
	}
}

// roundToInterval rounds down to the nearest interval multiple. Rounding
// down keeps the result at or below the OTM-target strike; rounding to
// nearest could push the strike above the floor it was computed from.
func roundToInterval(v, interval decimal.Decimal) decimal.Decimal {
	if interval.IsZero() {
		return v.Floor()
	}
	return v.Div(interval).Floor().Mul(interval)
}
