// Package execution implements the Rapid-Fire Executor (parallel batch
// submission plus condition-based monitoring) and the Fill Manager (a
// finer-grained post-submission monitor with partial-fill handling and
// progressive price adjustment). Fan-out here is bounded, I/O-only
// concurrency scoped to one batch call; no worker pool outlives a call.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/metrics"
	"github.com/alejandrodnm/putpipeline/internal/placement"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/alejandrodnm/putpipeline/internal/pricing"
	"github.com/shopspring/decimal"
)

// Executor drives Tier 1 submission and fill monitoring.
type Executor struct {
	broker ports.Broker
	cfg    Config

	mu      sync.Mutex
	pending map[string]*domain.PendingOrder

	audit []domain.AuditEntry
	sub   ports.Subscription
}

// Config holds the rapid-fire executor's tunables.
type Config struct {
	Placement           placement.Config
	QuoteTimeout        time.Duration
	QuoteRetryTimeout   time.Duration
	MaxWait             time.Duration
	AdjustmentThreshold decimal.Decimal
	MonitorInterval     time.Duration
}

// New constructs an Executor with an empty pending-order map.
func New(broker ports.Broker, cfg Config) *Executor {
	return &Executor{broker: broker, cfg: cfg, pending: make(map[string]*domain.PendingOrder)}
}

// Record implements placement.AuditSink.
func (e *Executor) Record(entry domain.AuditEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry.At = time.Now()
	e.audit = append(e.audit, entry)
}

// AuditLog returns a copy of the recorded audit entries.
func (e *Executor) AuditLog() []domain.AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AuditEntry, len(e.audit))
	copy(out, e.audit)
	return out
}

// SubmissionResult is one outcome of the parallel submission phase.
type SubmissionResult struct {
	Candidate domain.Candidate
	Placement domain.OrderPlacement
	Skip      placement.SkipReason
	Err       error
}

// Submit qualifies contracts, batch-fetches quotes, and invokes the
// Adaptive Order Placer for every confirmed candidate in parallel.
func (e *Executor) Submit(ctx context.Context, session placement.MarketSession, candidates []domain.Candidate) ([]SubmissionResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	contracts := make([]domain.Contract, len(candidates))
	for i, c := range candidates {
		contracts[i] = e.broker.GetOptionContract(c.Symbol, c.Expiration, c.EffectiveStrike(), "PUT")
	}
	qualified, err := e.broker.QualifyContracts(ctx, contracts...)
	if err != nil {
		return nil, fmt.Errorf("execution.Submit: qualify: %w", err)
	}

	quotes, err := e.broker.GetQuotesBatch(ctx, qualified, e.cfg.QuoteTimeout)
	if err != nil {
		return nil, fmt.Errorf("execution.Submit: quotes: %w", err)
	}
	for i, q := range quotes {
		if !q.Valid {
			retried, rerr := e.broker.GetQuotesBatch(ctx, []domain.Contract{qualified[i]}, e.cfg.QuoteRetryTimeout)
			if rerr == nil && len(retried) == 1 {
				quotes[i] = retried[0]
			}
		}
	}

	results := make([]SubmissionResult, len(candidates))
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := candidates[i]
			q := quotes[i]
			if !q.Valid {
				results[i] = SubmissionResult{Candidate: c, Skip: placement.SkipUntradeable}
				return
			}
			op, skip, err := placement.Place(ctx, e.broker, e.cfg.Placement, e, session, c, qualified[i], q, c.StagedContracts)
			results[i] = SubmissionResult{Candidate: c, Placement: op, Skip: skip, Err: err}
			if op.OK {
				po := domain.NewPendingOrder(c.ID, qualified[i], op.Limit, c.StagedContracts, op.OrderType)
				po.OrderID = op.OrderID
				po.LastBid, po.LastAsk = q.Bid, q.Ask
				po.SubmittedAt = time.Now()
				e.mu.Lock()
				e.pending[po.OrderID] = po
				e.mu.Unlock()
				metrics.IncOrderPlaced(string(op.OrderType))
			}
		}(i)
	}
	wg.Wait()

	submitted := 0
	for _, r := range results {
		if r.Placement.OK {
			submitted++
		}
	}
	if submitted == 0 {
		slog.Warn("systematic failure: zero orders submitted", "staged", len(candidates))
	}

	return results, nil
}

// Monitor runs the 2-second event-driven monitoring loop: it processes
// order-status events, checks for orders that need re-pricing, and
// returns once MaxWait elapses. Orders still open at the end are left in
// the pending map as "working" so late fills can still be observed.
func (e *Executor) Monitor(ctx context.Context) (filled, failed []domain.ExecutionSummary, err error) {
	sub, err := e.broker.SubscribeOrderStatus(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("execution.Monitor: subscribe: %w", err)
	}
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	deadline := time.Now().Add(e.cfg.MaxWait)
	interval := e.cfg.MonitorInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return filled, failed, ctx.Err()
		case evt := <-sub.Events():
			e.applyEvent(evt)
		case <-time.After(interval):
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

		e.maybeAdjust(ctx)
	}

	return filled, failed, nil
}

func (e *Executor) applyEvent(evt ports.OrderStatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	applyEventToMap(e.pending, evt)
}

// applyEventToMap mutates the PendingOrder matching evt.OrderID in place.
// It does no locking of its own: callers either hold the owning mutex
// (Executor.applyEvent) or have sole, temporary ownership of the map
// (FillManager.Run).
func applyEventToMap(pending map[string]*domain.PendingOrder, evt ports.OrderStatusEvent) {
	po, ok := pending[evt.OrderID]
	if !ok {
		return
	}
	po.LastStatus = evt.Status
	po.FilledQty = evt.FilledQty
	po.RemainingQty = evt.RemainingQty
	if evt.Status == domain.StatusFilled {
		po.FillPrice = evt.FillPrice
	}
}

// RunFillManager hands the Executor's own pending map and subscription to
// fm for the duration of one monitoring window, then folds the result back
// in: fm.Run becomes the map's sole mutator while it runs, so this must not
// be called concurrently with Monitor or RunTier2 against the same
// Executor.
func (e *Executor) RunFillManager(ctx context.Context, fm *FillManager) (filled, failed []domain.ExecutionSummary, err error) {
	e.mu.Lock()
	if e.sub == nil {
		sub, serr := e.broker.SubscribeOrderStatus(ctx)
		if serr != nil {
			e.mu.Unlock()
			return nil, nil, fmt.Errorf("execution.RunFillManager: subscribe: %w", serr)
		}
		e.sub = sub
	}
	sub := e.sub
	local := e.pending
	e.mu.Unlock()

	result := fm.Run(ctx, local, e.Record, sub.Events())

	e.mu.Lock()
	e.pending = make(map[string]*domain.PendingOrder, len(result.Open))
	for _, po := range result.Open {
		e.pending[po.OrderID] = po
	}
	e.mu.Unlock()

	return result.Filled, result.Failed, nil
}

func (e *Executor) maybeAdjust(ctx context.Context) {
	e.mu.Lock()
	var toAdjust []*domain.PendingOrder
	for _, po := range e.pending {
		if po.LastStatus.Terminal() {
			continue
		}
		toAdjust = append(toAdjust, po)
	}
	e.mu.Unlock()

	for _, po := range toAdjust {
		q, err := e.broker.GetQuote(ctx, po.Contract, 300*time.Millisecond)
		if err != nil || !q.Valid {
			continue
		}
		if po.CurrentLimit.Sub(q.Ask).LessThanOrEqual(e.cfg.AdjustmentThreshold) {
			continue
		}
		newLimit, err := pricing.SellLimit(q.Bid, q.Ask, e.cfg.Placement.Ratio())
		if err != nil || newLimit.LessThan(e.cfg.Placement.PremiumMin) {
			continue
		}
		if newLimit.GreaterThanOrEqual(po.CurrentLimit) {
			continue
		}
		e.cancelAndReplace(ctx, po, q, newLimit, "condition-based reprice")
	}
}

// cancelAndReplace cancels po's live order and places a new one at
// newLimit, rekeying e.pending under lock so the map is never left
// pointing at a stale order_id. Tier 2 and the threshold-based monitor both
// funnel through it so they share the same rekeying discipline; the
// FillManager performs its own cancel-and-replace on the map it is handed.
func (e *Executor) cancelAndReplace(ctx context.Context, po *domain.PendingOrder, q domain.Quote, newLimit decimal.Decimal, reason string) {
	if _, err := e.broker.CancelOrder(ctx, po.OrderID, reason); err != nil {
		return
	}
	e.Record(domain.AuditEntry{LocalID: po.LocalID, OrderID: po.OrderID, Symbol: po.Contract.Symbol, Action: domain.AuditCancel, Reason: reason})

	newID, _, err := e.broker.PlaceOrder(ctx, po.Contract, ports.Order{
		Side:       ports.SideSell,
		Quantity:   po.RemainingQty,
		LimitPrice: newLimit,
		Adaptive:   po.OrderType == domain.OrderAdaptive,
		TIF:        "DAY",
	}, reason)
	if err != nil {
		return
	}
	e.Record(domain.AuditEntry{LocalID: po.LocalID, OrderID: newID, Symbol: po.Contract.Symbol, Action: domain.AuditSubmit, Reason: reason})

	e.mu.Lock()
	delete(e.pending, po.OrderID)
	po.OrderID = newID
	po.CurrentLimit = newLimit
	po.LastBid, po.LastAsk = q.Bid, q.Ask
	po.AdjustmentCount++
	po.LastStatus = domain.StatusSubmitted
	e.pending[newID] = po
	e.mu.Unlock()
	metrics.IncAdjustment(reasonToStage(reason))
}

func reasonToStage(reason string) string {
	if reason == "tier2 retry" {
		return "tier2"
	}
	return "tier1"
}

// Pending returns a snapshot of the still-open pending orders.
func (e *Executor) Pending() []*domain.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.PendingOrder, 0, len(e.pending))
	for _, po := range e.pending {
		out = append(out, po)
	}
	return out
}

// Close detaches the order-status subscription and clears the pending map.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != nil {
		_ = e.sub.Close()
		e.sub = nil
	}
	e.pending = make(map[string]*domain.PendingOrder)
	return nil
}

func summarize(po *domain.PendingOrder, outcome string) domain.ExecutionSummary {
	return domain.ExecutionSummary{
		CandidateID:     po.CandidateID,
		Symbol:          po.Contract.Symbol,
		Strike:          po.Contract.Strike,
		Expiration:      po.Contract.Expiration,
		OrderID:         po.OrderID,
		OrderType:       po.OrderType,
		SubmittedLimit:  po.InitialLimit,
		FillPrice:       po.FillPrice,
		ContractsFilled: po.FilledQty,
		AdjustmentsMade: po.AdjustmentCount,
		Outcome:         outcome,
	}
}
