// Package placement implements the Adaptive Order Placer: a sequence of
// pre-flight gates (market session, tradeability, spread, price
// stability) followed by adaptive-then-limit-fallback submission.
package placement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
)

// SkipReason enumerates why a candidate was not submitted.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipMarketSession  SkipReason = "market_session"
	SkipUntradeable    SkipReason = "untradeable_quote"
	SkipSpreadCap      SkipReason = "spread_cap"
	SkipPriceStability SkipReason = "price_stability"
)

// MarketSession is the externally-derived trading session state.
type MarketSession string

const (
	SessionRegular   MarketSession = "REGULAR"
	SessionPreMarket MarketSession = "PRE_MARKET"
	SessionClosed    MarketSession = "CLOSED"
)

// Config holds the placer's gate thresholds.
type Config struct {
	MaxExecutionSpread   decimal.Decimal
	PriceStabilityWarn   decimal.Decimal // 0.20
	PriceStabilityReject decimal.Decimal // 0.50
	PremiumMin           decimal.Decimal
	BidMidRatio          decimal.Decimal // zero means pricing.DefaultRatio
	UseAdaptive          bool
	SubmitWait           time.Duration
}

// Ratio returns the configured bid-mid ratio, defaulting when unset.
func (c Config) Ratio() decimal.Decimal {
	if c.BidMidRatio.IsZero() {
		return pricing.DefaultRatio
	}
	return c.BidMidRatio
}

// AuditSink records order actions for post-trade review.
type AuditSink interface {
	Record(entry domain.AuditEntry)
}

// Place runs the pre-flight gates and, if they pass, submits an order
// for one candidate/contract/quote triple via broker.
func Place(ctx context.Context, broker ports.Broker, cfg Config, audit AuditSink, session MarketSession, c domain.Candidate, contract domain.Contract, quote domain.Quote, contracts int) (domain.OrderPlacement, SkipReason, error) {
	if session != SessionRegular && session != SessionPreMarket {
		return domain.OrderPlacement{Reason: "market not open"}, SkipMarketSession, nil
	}

	if !quote.Tradeable(cfg.PremiumMin) {
		return domain.OrderPlacement{Reason: "quote not tradeable"}, SkipUntradeable, nil
	}

	if quote.Bid.IsZero() || quote.SpreadFraction().GreaterThan(cfg.MaxExecutionSpread) {
		return domain.OrderPlacement{Reason: "spread exceeds cap"}, SkipSpreadCap, nil
	}

	liveLimit, err := pricing.SellLimit(quote.Bid, quote.Ask, cfg.Ratio())
	if err != nil {
		return domain.OrderPlacement{}, SkipNone, fmt.Errorf("placement.Place: limit: %w", err)
	}
	staged := c.StagedLimitPrice
	deviation := decimal.Zero
	if staged.IsPositive() {
		deviation = liveLimit.Sub(staged).Div(staged).Abs()
	}
	if deviation.GreaterThan(cfg.PriceStabilityReject) {
		return domain.OrderPlacement{Reason: "price unstable", Deviation: deviation}, SkipPriceStability, nil
	}
	if deviation.GreaterThan(cfg.PriceStabilityWarn) {
		slog.Warn("price deviation in warning band", "symbol", c.Symbol, "deviation", deviation.String())
	}

	orderType := domain.OrderLimit
	adaptive := cfg.UseAdaptive
	if adaptive {
		orderType = domain.OrderAdaptive
	}

	orderID, status, err := broker.PlaceOrder(ctx, contract, ports.Order{
		Side:       ports.SideSell,
		Quantity:   contracts,
		LimitPrice: liveLimit,
		Adaptive:   adaptive,
		TIF:        "DAY",
	}, "initial submission")
	if err != nil {
		return domain.OrderPlacement{Reason: err.Error()}, SkipNone, fmt.Errorf("placement.Place: submit: %w", err)
	}
	recordAudit(audit, orderID, c.Symbol, domain.AuditSubmit, "initial submission")

	if cfg.SubmitWait > 0 {
		select {
		case <-ctx.Done():
			return domain.OrderPlacement{}, SkipNone, ctx.Err()
		case <-time.After(cfg.SubmitWait):
		}
	}

	if adaptive && status == domain.StatusInactive {
		if _, err := broker.CancelOrder(ctx, orderID, "adaptive rejected"); err != nil {
			return domain.OrderPlacement{}, SkipNone, fmt.Errorf("placement.Place: cancel rejected adaptive: %w", err)
		}
		recordAudit(audit, orderID, c.Symbol, domain.AuditCancel, "adaptive rejected")

		orderID, _, err = broker.PlaceOrder(ctx, contract, ports.Order{
			Side:       ports.SideSell,
			Quantity:   contracts,
			LimitPrice: liveLimit,
			Adaptive:   false,
			TIF:        "DAY",
		}, "limit fallback")
		if err != nil {
			return domain.OrderPlacement{}, SkipNone, fmt.Errorf("placement.Place: fallback submit: %w", err)
		}
		orderType = domain.OrderLimitFallback
		recordAudit(audit, orderID, c.Symbol, domain.AuditSubmit, "limit fallback")
	}

	return domain.OrderPlacement{
		OK:          true,
		OrderID:     orderID,
		OrderType:   orderType,
		Bid:         quote.Bid,
		Ask:         quote.Ask,
		Limit:       liveLimit,
		StagedLimit: staged,
		Deviation:   deviation,
	}, SkipNone, nil
}

func recordAudit(sink AuditSink, orderID, symbol string, action domain.AuditAction, reason string) {
	if sink == nil {
		return
	}
	sink.Record(domain.AuditEntry{OrderID: orderID, Symbol: symbol, Action: action, Reason: reason})
}
