// Package market implements the Market Condition Monitor: a periodic
// read of volatility, a market proxy price, and sampled option spreads,
// used to gate the Tier 2 retry window.
package market

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
)

// Config holds the monitor's thresholds.
type Config struct {
	VIXHigh   float64
	VIXLow    float64
	MaxSpread decimal.Decimal
	MaxSamples int
}

// defaultVIX is used when the broker's volatility read fails. It lies
// between the default vix_low (18) and vix_high (25) thresholds, so with
// those thresholds it does not by itself make conditions unfavorable.
const defaultVIX = 20.0

// Snapshot reads current conditions: VIX, a market proxy price, and the
// average bid-ask spread across up to cfg.MaxSamples option contracts.
func Snapshot(ctx context.Context, broker ports.Broker, cfg Config, sampleSymbol string, sampleContracts []domain.Contract) (domain.MarketConditions, error) {
	vix, err := broker.GetVIX(ctx)
	if err != nil {
		vix = defaultVIX
	}

	spy, err := broker.GetUnderlyingProxy(ctx, sampleSymbol)
	if err != nil {
		return domain.MarketConditions{}, fmt.Errorf("market.Snapshot: proxy: %w", err)
	}

	n := len(sampleContracts)
	if n > cfg.MaxSamples {
		n = cfg.MaxSamples
	}
	total := decimal.Zero
	sampled := 0
	for i := 0; i < n; i++ {
		q, err := broker.GetQuote(ctx, sampleContracts[i], 0)
		if err != nil || !q.Valid || q.Bid.IsZero() {
			continue
		}
		total = total.Add(q.Ask.Sub(q.Bid))
		sampled++
	}
	avg := decimal.Zero
	if sampled > 0 {
		avg = total.Div(decimal.NewFromInt(int64(sampled)))
	}

	mc := domain.MarketConditions{VIX: vix, SPY: spy, AvgSpread: avg, SampleSize: sampled}
	mc.Classify(cfg.VIXHigh, cfg.VIXLow, cfg.MaxSpread)
	return mc, nil
}
