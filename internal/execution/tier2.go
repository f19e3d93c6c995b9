package execution

import (
	"context"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/market"
	"github.com/alejandrodnm/putpipeline/internal/metrics"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/shopspring/decimal"
)

// Tier2Config holds the conditional-retry window's tunables.
type Tier2Config struct {
	CheckInterval   time.Duration
	LimitAdjustment decimal.Decimal
	Market          market.Config
}

// RunTier2 polls the still-working pending orders until ctx is done (the
// caller gates this on the Tier 2 window via clock.Sleep before calling),
// repricing toward the ask when market conditions are favorable. It shares
// the Executor's own pending map, mutex, and subscription so a reprice here
// rekeys the same map Monitor and applyEvent operate on, and so fills
// arriving during this window are observed rather than silently dropped.
func (e *Executor) RunTier2(ctx context.Context, cfg Tier2Config) (filled, failed []domain.ExecutionSummary) {
	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()

	for {
		e.mu.Lock()
		stillOpen := len(e.pending) > 0
		e.mu.Unlock()
		if !stillOpen {
			return filled, failed
		}

		select {
		case <-ctx.Done():
			return filled, failed
		case evt := <-subEvents(sub):
			e.applyEvent(evt)
		case <-time.After(cfg.CheckInterval):
			e.tier2Tick(ctx, cfg)
		}

		e.mu.Lock()
		for id, po := range e.pending {
			switch {
			case po.LastStatus == domain.StatusFilled:
				filled = append(filled, summarize(po, "filled"))
				delete(e.pending, id)
				metrics.IncFill()
			case po.LastStatus.Terminal():
				failed = append(failed, summarize(po, "failed"))
				delete(e.pending, id)
			}
		}
		e.mu.Unlock()
	}
}

func subEvents(sub ports.Subscription) <-chan ports.OrderStatusEvent {
	if sub == nil {
		return nil
	}
	return sub.Events()
}

func (e *Executor) tier2Tick(ctx context.Context, cfg Tier2Config) {
	e.mu.Lock()
	var open []*domain.PendingOrder
	for _, po := range e.pending {
		if !po.LastStatus.Terminal() {
			open = append(open, po)
		}
	}
	e.mu.Unlock()
	if len(open) == 0 {
		return
	}

	contracts := make([]domain.Contract, len(open))
	for i, po := range open {
		contracts[i] = po.Contract
	}
	conditions, err := market.Snapshot(ctx, e.broker, cfg.Market, open[0].Contract.Symbol, contracts)
	if err != nil || !conditions.Favorable {
		return
	}

	for _, po := range open {
		q, err := e.broker.GetQuote(ctx, po.Contract, time.Second)
		if err != nil || !q.Valid {
			continue
		}
		base, err := pricing.SellLimit(q.Bid, q.Ask, e.cfg.Placement.Ratio())
		if err != nil {
			continue
		}
		newLimit := base.Mul(cfg.LimitAdjustment).Round(2)
		ceiling := q.Ask.Sub(decimal.NewFromFloat(0.01))
		if newLimit.GreaterThan(ceiling) {
			newLimit = ceiling
		}
		if newLimit.Equal(po.CurrentLimit) {
			continue
		}
		e.cancelAndReplace(ctx, po, q, newLimit, "tier2 retry")
	}
}
