// Package strike implements the Live Strike Selector: at market open, pull
// the option chain, request Greeks for a bounded candidate set, and pick
// the strike whose delta is closest to a target.
package strike

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
)

// Result is the outcome of selecting a strike for one candidate.
type Result string

const (
	Selected  Result = "SELECTED"
	Unchanged Result = "UNCHANGED"
	Abandoned Result = "ABANDONED"
)

// Config holds the selector's tunables.
type Config struct {
	TargetDelta     float64
	DeltaTolerance  float64
	MinOTMPct       decimal.Decimal
	MinOpenInterest int64
	MaxCandidates   int
	GreeksTimeout   time.Duration
	MaxSpread       decimal.Decimal
	PremiumFloor    decimal.Decimal
	BidMidRatio     decimal.Decimal
	FallbackToOTM   bool
}

// Select runs the 6-step selection algorithm for one candidate and
// mutates it in place on success.
func Select(ctx context.Context, broker ports.Broker, cfg Config, c *domain.Candidate) (Result, error) {
	underlying, ok, err := broker.GetStockPrice(ctx, c.Symbol)
	if err != nil {
		return Abandoned, fmt.Errorf("strike.Select: underlying: %w", err)
	}
	if !ok {
		return fallback(cfg, c, "no underlying price")
	}
	c.CurrentStockPrice = underlying

	strikes, err := broker.GetOptionChain(ctx, c.Symbol, c.Expiration)
	if err != nil {
		return Abandoned, fmt.Errorf("strike.Select: chain: %w", err)
	}
	if len(strikes) == 0 {
		return fallback(cfg, c, "empty chain")
	}

	otmFloor := underlying.Mul(decimal.NewFromInt(1).Sub(cfg.MinOTMPct))
	var otmStrikes []decimal.Decimal
	for _, s := range strikes {
		if s.LessThanOrEqual(otmFloor) {
			otmStrikes = append(otmStrikes, s)
		}
	}
	if len(otmStrikes) == 0 {
		return fallback(cfg, c, "no OTM strikes")
	}

	sort.Slice(otmStrikes, func(i, j int) bool {
		di := otmStrikes[i].Sub(c.Strike).Abs()
		dj := otmStrikes[j].Sub(c.Strike).Abs()
		return di.LessThan(dj)
	})
	if len(otmStrikes) > cfg.MaxCandidates {
		otmStrikes = otmStrikes[:cfg.MaxCandidates]
	}
	sort.Slice(otmStrikes, func(i, j int) bool { return otmStrikes[i].LessThan(otmStrikes[j]) })

	gctx, cancel := context.WithTimeout(ctx, cfg.GreeksTimeout)
	defer cancel()

	type candidateGreeks struct {
		strike decimal.Decimal
		g      domain.Greeks
	}
	var collected []candidateGreeks
	for _, s := range otmStrikes {
		contract := broker.GetOptionContract(c.Symbol, c.Expiration, s, "PUT")
		g, ok, err := broker.GetGreeks(gctx, contract, cfg.GreeksTimeout)
		if err != nil || !ok {
			continue
		}
		collected = append(collected, candidateGreeks{strike: s, g: g})
	}
	if len(collected) == 0 {
		return fallback(cfg, c, "no greeks available before timeout")
	}

	var best *candidateGreeks
	bestDist := math.MaxFloat64
	for i := range collected {
		cg := collected[i]
		if !passesGates(cfg, underlying, cg.strike, cg.g) {
			continue
		}
		dist := math.Abs(cg.g.Delta - (-cfg.TargetDelta))
		if dist > cfg.DeltaTolerance {
			continue
		}
		if dist < bestDist {
			bestDist = dist
			best = &collected[i]
		}
	}
	if best == nil {
		return fallback(cfg, c, "no strike within delta tolerance")
	}

	limit, err := pricing.SellLimit(best.g.Bid, best.g.Ask, cfg.BidMidRatio)
	if err != nil {
		return Abandoned, fmt.Errorf("strike.Select: limit: %w", err)
	}

	c.AdjustedStrike = best.strike
	c.AdjustedLimitPrice = limit
	c.CurrentBid = best.g.Bid
	c.CurrentAsk = best.g.Ask
	c.LiveDelta = best.g.Delta
	c.LiveIV = best.g.IV
	c.LiveGamma = best.g.Gamma
	c.LiveTheta = best.g.Theta
	c.LiveVolume = best.g.Volume
	c.LiveOpenInterest = best.g.OpenInterest
	c.StrikeSelectionMethod = domain.StrikeMethodDelta

	return Selected, nil
}

func passesGates(cfg Config, underlying, strike decimal.Decimal, g domain.Greeks) bool {
	if g.Bid.LessThan(cfg.PremiumFloor) {
		return false
	}
	if g.OpenInterest < cfg.MinOpenInterest {
		return false
	}
	otm := underlying.Sub(strike).Div(underlying)
	if otm.LessThan(cfg.MinOTMPct) {
		return false
	}
	if g.Bid.IsZero() {
		return false
	}
	spread := g.Ask.Sub(g.Bid).Div(g.Bid)
	if spread.GreaterThan(cfg.MaxSpread) {
		return false
	}
	return true
}

func fallback(cfg Config, c *domain.Candidate, reason string) (Result, error) {
	if cfg.FallbackToOTM {
		c.StrikeSelectionMethod = domain.StrikeMethodUnchanged
		return Unchanged, nil
	}
	return Abandoned, nil
}
