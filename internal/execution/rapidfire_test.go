package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/market"
	"github.com/alejandrodnm/putpipeline/internal/placement"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rfFakeBroker struct {
	ports.Broker

	quotes    map[string]domain.Quote // by symbol
	vix       float64
	nextID    int
	placed    []ports.Order
	cancelled []string
	events    chan ports.OrderStatusEvent
	subClosed bool
}

func newRFBroker() *rfFakeBroker {
	return &rfFakeBroker{
		quotes: make(map[string]domain.Quote),
		vix:    18.5,
		events: make(chan ports.OrderStatusEvent, 16),
	}
}

func (b *rfFakeBroker) GetOptionContract(symbol string, expiration time.Time, strike decimal.Decimal, right string) domain.Contract {
	return domain.Contract{Symbol: symbol, Strike: strike, Expiration: expiration, Right: right}
}

func (b *rfFakeBroker) QualifyContracts(ctx context.Context, contracts ...domain.Contract) ([]domain.Contract, error) {
	out := make([]domain.Contract, len(contracts))
	for i, c := range contracts {
		c.ConID = int64(i + 1)
		out[i] = c
	}
	return out, nil
}

func (b *rfFakeBroker) GetQuotesBatch(ctx context.Context, contracts []domain.Contract, timeout time.Duration) ([]domain.Quote, error) {
	out := make([]domain.Quote, len(contracts))
	for i, c := range contracts {
		out[i] = b.quotes[c.Symbol]
	}
	return out, nil
}

func (b *rfFakeBroker) GetQuote(ctx context.Context, contract domain.Contract, timeout time.Duration) (domain.Quote, error) {
	return b.quotes[contract.Symbol], nil
}

func (b *rfFakeBroker) PlaceOrder(ctx context.Context, contract domain.Contract, order ports.Order, reason string) (string, domain.OrderStatus, error) {
	b.placed = append(b.placed, order)
	b.nextID++
	return fmt.Sprintf("rf-%d", b.nextID), domain.StatusSubmitted, nil
}

func (b *rfFakeBroker) CancelOrder(ctx context.Context, orderID, reason string) (bool, error) {
	b.cancelled = append(b.cancelled, orderID)
	return true, nil
}

type rfSub struct{ b *rfFakeBroker }

func (s rfSub) Events() <-chan ports.OrderStatusEvent { return s.b.events }
func (s rfSub) Close() error                          { s.b.subClosed = true; return nil }

func (b *rfFakeBroker) SubscribeOrderStatus(ctx context.Context) (ports.Subscription, error) {
	return rfSub{b: b}, nil
}

func (b *rfFakeBroker) GetVIX(ctx context.Context) (float64, error) { return b.vix, nil }

func (b *rfFakeBroker) GetUnderlyingProxy(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(500), nil
}

func rfCandidate(id int64, symbol string, strike, limit float64, contracts int) domain.Candidate {
	return domain.Candidate{
		ID:               id,
		Symbol:           symbol,
		Strike:           decimal.NewFromFloat(strike),
		Expiration:       time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		OptionType:       "PUT",
		StagedStockPrice: decimal.NewFromFloat(strike * 1.05),
		StagedLimitPrice: decimal.NewFromFloat(limit),
		StagedContracts:  contracts,
		State:            domain.StateConfirmed,
	}
}

func rfTestCfg() Config {
	return Config{
		Placement: placement.Config{
			MaxExecutionSpread:   decimal.NewFromFloat(0.30),
			PriceStabilityWarn:   decimal.NewFromFloat(0.20),
			PriceStabilityReject: decimal.NewFromFloat(0.50),
			PremiumMin:           decimal.NewFromFloat(0.30),
		},
		QuoteTimeout:        10 * time.Millisecond,
		QuoteRetryTimeout:   10 * time.Millisecond,
		MaxWait:             150 * time.Millisecond,
		AdjustmentThreshold: decimal.NewFromFloat(0.02),
		MonitorInterval:     10 * time.Millisecond,
	}
}

func TestSubmit_AllCandidatesSubmitted(t *testing.T) {
	broker := newRFBroker()
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.49), decimal.Zero, 0, time.Now())
	broker.quotes["MSFT"] = domain.NewQuote(decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.54), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	results, err := e.Submit(context.Background(), placement.SessionRegular, []domain.Candidate{
		rfCandidate(1, "AAPL", 150, 0.45, 5),
		rfCandidate(2, "MSFT", 400, 0.50, 3),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Placement.OK, "skip=%s err=%v", r.Skip, r.Err)
	}
	assert.Len(t, e.Pending(), 2)
	assert.Len(t, e.AuditLog(), 2)
}

func TestSubmit_UntradeableQuoteSkipped(t *testing.T) {
	broker := newRFBroker()
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.49), decimal.Zero, 0, time.Now())
	broker.quotes["XOM"] = domain.Quote{Reason: "timeout"} // never came back valid

	e := New(broker, rfTestCfg())
	results, err := e.Submit(context.Background(), placement.SessionRegular, []domain.Candidate{
		rfCandidate(1, "AAPL", 150, 0.45, 5),
		rfCandidate(2, "XOM", 100, 0.40, 2),
	})
	require.NoError(t, err)

	byID := map[int64]SubmissionResult{}
	for _, r := range results {
		byID[r.Candidate.ID] = r
	}
	assert.True(t, byID[1].Placement.OK)
	assert.False(t, byID[2].Placement.OK)
	assert.Equal(t, placement.SkipUntradeable, byID[2].Skip)
	assert.Len(t, e.Pending(), 1)
}

func TestSubmit_EmptyListNoBrokerCalls(t *testing.T) {
	broker := newRFBroker()
	e := New(broker, rfTestCfg())
	results, err := e.Submit(context.Background(), placement.SessionRegular, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, broker.placed)
}

func TestMonitor_EventDrivenFill(t *testing.T) {
	broker := newRFBroker()
	// Limit below the ask keeps the threshold monitor quiet while we wait.
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.49), decimal.Zero, 0, time.Now())
	broker.quotes["MSFT"] = domain.NewQuote(decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.54), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	_, err := e.Submit(context.Background(), placement.SessionRegular, []domain.Candidate{
		rfCandidate(1, "AAPL", 150, 0.45, 5),
		rfCandidate(2, "MSFT", 400, 0.50, 3),
	})
	require.NoError(t, err)

	pending := e.Pending()
	require.Len(t, pending, 2)
	// One fills, one stays working.
	origQty := pending[0].RemainingQty
	broker.events <- ports.OrderStatusEvent{
		OrderID: pending[0].OrderID, Status: domain.StatusFilled,
		FilledQty: origQty, RemainingQty: 0, FillPrice: decimal.NewFromFloat(0.46),
	}

	filled, failed, err := e.Monitor(context.Background())
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Empty(t, failed)
	assert.Equal(t, "filled", filled[0].Outcome)
	assert.True(t, filled[0].FillPrice.Equal(decimal.NewFromFloat(0.46)))
	assert.Equal(t, origQty, filled[0].ContractsFilled)

	// The unfilled order is retained as working for late fills.
	assert.Len(t, e.Pending(), 1)
}

func TestMonitor_TerminalCancelRecordedAsFailed(t *testing.T) {
	broker := newRFBroker()
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.49), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	_, err := e.Submit(context.Background(), placement.SessionRegular, []domain.Candidate{
		rfCandidate(1, "AAPL", 150, 0.45, 5),
	})
	require.NoError(t, err)

	orderID := e.Pending()[0].OrderID
	broker.events <- ports.OrderStatusEvent{OrderID: orderID, Status: domain.StatusCancelled}

	filled, failed, err := e.Monitor(context.Background())
	require.NoError(t, err)
	assert.Empty(t, filled)
	require.Len(t, failed, 1)
	assert.Equal(t, "failed", failed[0].Outcome)
	assert.Empty(t, e.Pending())
}

func TestCancelAndReplace_RekeysPendingMap(t *testing.T) {
	broker := newRFBroker()
	e := New(broker, rfTestCfg())

	po := domain.NewPendingOrder(1, domain.Contract{Symbol: "AAPL", Strike: decimal.NewFromInt(150)}, decimal.NewFromFloat(0.50), 5, domain.OrderLimit)
	po.OrderID = "rf-old"
	e.pending[po.OrderID] = po

	q := domain.NewQuote(decimal.NewFromFloat(0.44), decimal.NewFromFloat(0.48), decimal.Zero, 0, time.Now())
	e.cancelAndReplace(context.Background(), po, q, decimal.NewFromFloat(0.45), "condition-based reprice")

	assert.NotContains(t, e.pending, "rf-old")
	require.Contains(t, e.pending, "rf-1")
	assert.Equal(t, 1, e.pending["rf-1"].AdjustmentCount)
	assert.True(t, e.pending["rf-1"].CurrentLimit.Equal(decimal.NewFromFloat(0.45)))
	assert.Contains(t, broker.cancelled, "rf-old")

	// The audit log shows both broker order ids for the one symbol.
	var ids []string
	for _, entry := range e.AuditLog() {
		assert.Equal(t, "AAPL", entry.Symbol)
		ids = append(ids, entry.OrderID)
	}
	assert.Contains(t, ids, "rf-old")
	assert.Contains(t, ids, "rf-1")
}

func TestCancelAndReplace_CancelFailureLeavesOrderUntouched(t *testing.T) {
	broker := newRFBroker()
	e := New(broker, rfTestCfg())

	po := domain.NewPendingOrder(1, domain.Contract{Symbol: "AAPL"}, decimal.NewFromFloat(0.50), 5, domain.OrderLimit)
	po.OrderID = "rf-old"
	e.pending[po.OrderID] = po

	failing := &cancelFailBroker{rfFakeBroker: broker}
	e.broker = failing

	q := domain.NewQuote(decimal.NewFromFloat(0.44), decimal.NewFromFloat(0.48), decimal.Zero, 0, time.Now())
	e.cancelAndReplace(context.Background(), po, q, decimal.NewFromFloat(0.45), "condition-based reprice")

	require.Contains(t, e.pending, "rf-old")
	assert.Equal(t, 0, po.AdjustmentCount)
	assert.True(t, po.CurrentLimit.Equal(decimal.NewFromFloat(0.50)))
}

type cancelFailBroker struct{ *rfFakeBroker }

func (b *cancelFailBroker) CancelOrder(ctx context.Context, orderID, reason string) (bool, error) {
	return false, fmt.Errorf("transient cancel failure")
}

func TestRunTier2_RepriceClampedToAskMinusCent(t *testing.T) {
	broker := newRFBroker()
	broker.vix = 22
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.44), decimal.NewFromFloat(0.48), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	po := domain.NewPendingOrder(1, domain.Contract{Symbol: "AAPL", Strike: decimal.NewFromInt(150)}, decimal.NewFromFloat(0.45), 5, domain.OrderLimit)
	po.OrderID = "rf-working"
	e.pending[po.OrderID] = po

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	e.RunTier2(ctx, Tier2Config{
		CheckInterval:   10 * time.Millisecond,
		LimitAdjustment: decimal.NewFromFloat(1.10),
		Market: market.Config{
			VIXHigh: 25, VIXLow: 18,
			MaxSpread: decimal.NewFromFloat(0.08), MaxSamples: 5,
		},
	})

	// 0.45 * 1.10 = 0.495 clamps to ask - 0.01 = 0.47.
	require.Contains(t, e.pending, "rf-1")
	assert.True(t, e.pending["rf-1"].CurrentLimit.Equal(decimal.NewFromFloat(0.47)),
		"got %s", e.pending["rf-1"].CurrentLimit)
	assert.Equal(t, 1, e.pending["rf-1"].AdjustmentCount)
}

func TestRunTier2_UnfavorableConditionsSkip(t *testing.T) {
	broker := newRFBroker()
	broker.vix = 27
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.44), decimal.NewFromFloat(0.48), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	po := domain.NewPendingOrder(1, domain.Contract{Symbol: "AAPL"}, decimal.NewFromFloat(0.45), 5, domain.OrderLimit)
	po.OrderID = "rf-working"
	e.pending[po.OrderID] = po

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	e.RunTier2(ctx, Tier2Config{
		CheckInterval:   10 * time.Millisecond,
		LimitAdjustment: decimal.NewFromFloat(1.10),
		Market: market.Config{
			VIXHigh: 25, VIXLow: 18,
			MaxSpread: decimal.NewFromFloat(0.08), MaxSamples: 5,
		},
	})

	require.Contains(t, e.pending, "rf-working")
	assert.Equal(t, 0, po.AdjustmentCount)
	assert.Empty(t, broker.cancelled)
}

func TestClose_ClearsPendingAndSubscription(t *testing.T) {
	broker := newRFBroker()
	broker.quotes["AAPL"] = domain.NewQuote(decimal.NewFromFloat(0.45), decimal.NewFromFloat(0.49), decimal.Zero, 0, time.Now())

	e := New(broker, rfTestCfg())
	_, err := e.Submit(context.Background(), placement.SessionRegular, []domain.Candidate{
		rfCandidate(1, "AAPL", 150, 0.45, 5),
	})
	require.NoError(t, err)
	_, _, err = e.Monitor(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.Empty(t, e.Pending())
	assert.True(t, broker.subClosed)
}
