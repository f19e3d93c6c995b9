package execution

import (
	"context"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/metrics"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
)

// FillManagerConfig holds the finer-grained monitor's tunables.
type FillManagerConfig struct {
	Window                  time.Duration
	CheckInterval           time.Duration
	AdjustmentInterval      time.Duration
	MaxAdjustmentsPerSymbol int
	PartialFillThreshold    decimal.Decimal
	AdjustmentIncrement     decimal.Decimal
	PremiumFloor            decimal.Decimal
	LeaveWorkingOnTimeout   bool
}

// FillManager is an alternative, finer-grained monitor used in place of
// the rapid-fire adjustment loop when invoked directly by the scheduler.
type FillManager struct {
	broker ports.Broker
	cfg    FillManagerConfig
}

// FillManagerResult captures everything the scheduler needs after a
// monitoring window: orders observed filled and failed (captured before
// removal so upstream persistence can still see them) and orders still
// open.
type FillManagerResult struct {
	Filled []domain.ExecutionSummary
	Failed []domain.ExecutionSummary
	Open   []*domain.PendingOrder
}

// NewFillManager constructs a FillManager.
func NewFillManager(broker ports.Broker, cfg FillManagerConfig) *FillManager {
	return &FillManager{broker: broker, cfg: cfg}
}

// Run monitors the given pending-order map for up to cfg.Window, handling
// partial fills and progressive price reduction. The caller is expected to
// hand over exclusive access to pending for the duration of the call (see
// Executor.RunFillManager); Run is the map's sole mutator while it runs, so
// events and timer ticks share one select loop rather than synchronizing
// separately.
func (f *FillManager) Run(ctx context.Context, pending map[string]*domain.PendingOrder, audit func(domain.AuditEntry), events <-chan ports.OrderStatusEvent) FillManagerResult {
	deadline := time.Now().Add(f.cfg.Window)
	lastAdjustAt := time.Now()
	adjustCounts := make(map[string]int) // keyed by symbol

	var result FillManagerResult

	for time.Now().Before(deadline) && len(pending) > 0 {
		select {
		case <-ctx.Done():
			goto done
		case evt, ok := <-events:
			if ok {
				applyEventToMap(pending, evt)
			}
		case <-time.After(f.cfg.CheckInterval):
		}

		for id, po := range pending {
			if po.LastStatus == domain.StatusFilled {
				result.Filled = append(result.Filled, summarize(po, "filled"))
				delete(pending, id)
				metrics.IncFill()
				continue
			}
			if po.LastStatus.Terminal() {
				result.Failed = append(result.Failed, summarize(po, "failed"))
				delete(pending, id)
				continue
			}
			if po.FilledQty > 0 && po.RemainingQty > 0 {
				f.handlePartial(ctx, po, pending, audit)
			}
		}

		if time.Since(lastAdjustAt) >= f.cfg.AdjustmentInterval {
			lastAdjustAt = time.Now()
			for _, po := range pending {
				symbol := po.Contract.Symbol
				if adjustCounts[symbol] >= f.cfg.MaxAdjustmentsPerSymbol {
					continue
				}
				if f.progressiveAdjust(ctx, po, pending, audit) {
					adjustCounts[symbol]++
				}
			}
		}
	}

done:
	for _, po := range pending {
		result.Open = append(result.Open, po)
	}
	if !f.cfg.LeaveWorkingOnTimeout {
		for id, po := range pending {
			_, _ = f.broker.CancelOrder(ctx, po.OrderID, "fill manager timeout")
			if audit != nil {
				audit(domain.AuditEntry{LocalID: po.LocalID, OrderID: po.OrderID, Symbol: po.Contract.Symbol, Action: domain.AuditCancel, Reason: "fill manager timeout"})
			}
			delete(pending, id)
		}
		result.Open = nil
	}
	return result
}

func (f *FillManager) handlePartial(ctx context.Context, po *domain.PendingOrder, pending map[string]*domain.PendingOrder, audit func(domain.AuditEntry)) {
	total := decimal.NewFromInt(int64(po.FilledQty + po.RemainingQty))
	if total.IsZero() {
		return
	}
	ratio := decimal.NewFromInt(int64(po.FilledQty)).Div(total)
	if ratio.LessThan(f.cfg.PartialFillThreshold) {
		return
	}

	q, err := f.broker.GetQuote(ctx, po.Contract, 300*time.Millisecond)
	if err != nil || !q.Valid {
		return
	}
	newLimit, err := pricing.SellLimit(q.Bid, q.Ask, pricing.DefaultRatio)
	if err != nil || newLimit.LessThan(f.cfg.PremiumFloor) {
		return
	}

	if _, err := f.broker.CancelOrder(ctx, po.OrderID, "partial fill cancel-replace"); err != nil {
		return
	}
	if audit != nil {
		audit(domain.AuditEntry{LocalID: po.LocalID, OrderID: po.OrderID, Symbol: po.Contract.Symbol, Action: domain.AuditCancel, Reason: "partial fill"})
	}

	newID, _, err := f.broker.PlaceOrder(ctx, po.Contract, ports.Order{
		Side:       ports.SideSell,
		Quantity:   po.RemainingQty,
		LimitPrice: newLimit,
	}, "partial fill remainder")
	if err != nil {
		return
	}
	if audit != nil {
		audit(domain.AuditEntry{LocalID: po.LocalID, OrderID: newID, Symbol: po.Contract.Symbol, Action: domain.AuditSubmit, Reason: "partial fill remainder"})
	}

	delete(pending, po.OrderID)
	po.OrderID = newID
	po.CurrentLimit = newLimit
	po.FilledQty = 0
	po.AdjustmentCount++
	po.LastStatus = domain.StatusSubmitted
	pending[newID] = po
	metrics.IncAdjustment("fillmanager")
}

func (f *FillManager) progressiveAdjust(ctx context.Context, po *domain.PendingOrder, pending map[string]*domain.PendingOrder, audit func(domain.AuditEntry)) bool {
	q, err := f.broker.GetQuote(ctx, po.Contract, 300*time.Millisecond)
	bid := po.LastBid
	if err == nil && q.Valid {
		bid = q.Bid
	}
	newLimit, ok := pricing.AdjustDown(po.CurrentLimit, bid, f.cfg.AdjustmentIncrement, f.cfg.PremiumFloor, po.AdjustmentCount+1, f.cfg.MaxAdjustmentsPerSymbol)
	if !ok {
		return false
	}

	if _, err := f.broker.CancelOrder(ctx, po.OrderID, "progressive adjustment"); err != nil {
		return false
	}
	if audit != nil {
		audit(domain.AuditEntry{LocalID: po.LocalID, OrderID: po.OrderID, Symbol: po.Contract.Symbol, Action: domain.AuditCancel, Reason: "progressive adjustment"})
	}

	newID, _, err := f.broker.PlaceOrder(ctx, po.Contract, ports.Order{
		Side:       ports.SideSell,
		Quantity:   po.RemainingQty,
		LimitPrice: newLimit,
	}, "progressive adjustment")
	if err != nil {
		return false
	}
	if audit != nil {
		audit(domain.AuditEntry{LocalID: po.LocalID, OrderID: newID, Symbol: po.Contract.Symbol, Action: domain.AuditSubmit, Reason: "progressive adjustment"})
	}

	delete(pending, po.OrderID)
	po.OrderID = newID
	po.CurrentLimit = newLimit
	po.AdjustmentCount++
	po.LastStatus = domain.StatusSubmitted
	pending[newID] = po
	metrics.IncAdjustment("fillmanager")
	return true
}
