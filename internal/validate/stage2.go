package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/shopspring/decimal"
)

// quoteSource is the narrow slice of ports.Broker that Stage2 needs.
type quoteSource interface {
	GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	GetOptionQuote(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, right string) (domain.Quote, error)
}

// Stage2Status mirrors Stage1Status but applies to the at-open premium
// check used as the fallback path when the Live Strike Selector is
// disabled.
type Stage2Status string

const (
	Stage2Ready   Stage2Status = "READY"
	Stage2Pending Stage2Status = "PENDING"
	Stage2Stale   Stage2Status = "STALE"
)

// Stage2Config holds the premium-deviation bands, the OTM execute floor
// (an underlying-price fraction), and the premium floor (a dollar price
// floor below which a recomputed limit is no longer acceptable).
type Stage2Config struct {
	MaxPremiumDeviationConfirmed decimal.Decimal
	MaxPremiumDeviationAdjust    decimal.Decimal
	OTMExecuteFloor              decimal.Decimal
	PremiumFloor                 decimal.Decimal
	BidMidRatio                  decimal.Decimal
	RetryDelay                   time.Duration
	MaxRetries                   int
}

// Stage2 fetches a fresh quote and applies the asymmetric premium-deviation
// decision logic. It retries while the quote shows bid<=0 (options not yet
// open) up to cfg.MaxRetries times, sleeping cfg.RetryDelay between
// attempts; the last PENDING attempt becomes STALE.
func Stage2(ctx context.Context, broker quoteSource, cfg Stage2Config, c *domain.Candidate) (Stage2Status, error) {
	strike := c.EffectiveStrike()

	var q domain.Quote
	for attempt := 0; ; attempt++ {
		price, ok, err := broker.GetStockPrice(ctx, c.Symbol)
		if err != nil {
			return Stage2Stale, fmt.Errorf("validate.Stage2: underlying: %w", err)
		}
		if ok {
			c.CurrentStockPrice = price
		}

		q, err = broker.GetOptionQuote(ctx, c.Symbol, strike, c.Expiration, "PUT")
		if err != nil {
			return Stage2Stale, fmt.Errorf("validate.Stage2: quote: %w", err)
		}
		if q.Bid.IsPositive() {
			break
		}
		if attempt >= cfg.MaxRetries {
			return Stage2Stale, nil
		}
		select {
		case <-ctx.Done():
			return Stage2Pending, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}

	c.CurrentBid = q.Bid
	c.CurrentAsk = q.Ask

	if c.CurrentStockPrice.IsPositive() {
		finalOTM := c.CurrentStockPrice.Sub(strike).Div(c.CurrentStockPrice)
		if finalOTM.LessThan(cfg.OTMExecuteFloor) {
			return Stage2Stale, nil
		}
	}

	premiumDeviation := q.Bid.Sub(c.StagedLimitPrice).Div(c.StagedLimitPrice)
	newLimit, err := pricing.SellLimit(q.Bid, q.Ask, cfg.BidMidRatio)
	if err != nil {
		return Stage2Stale, fmt.Errorf("validate.Stage2: limit: %w", err)
	}

	if premiumDeviation.IsPositive() {
		c.AdjustedLimitPrice = newLimit
		if premiumDeviation.Abs().LessThan(cfg.MaxPremiumDeviationConfirmed) {
			return Stage2Ready, nil
		}
		return Stage2Ready, nil // ADJUSTED also confirms for submission; limit already updated
	}

	absDev := premiumDeviation.Abs()
	if absDev.LessThan(cfg.MaxPremiumDeviationConfirmed) {
		return Stage2Ready, nil
	}
	if absDev.LessThan(cfg.MaxPremiumDeviationAdjust) && newLimit.GreaterThanOrEqual(cfg.PremiumFloor) {
		c.AdjustedLimitPrice = newLimit
		return Stage2Ready, nil
	}
	return Stage2Stale, nil
}
