package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	ports.Broker

	executions []ports.BrokerExecution
}

func (b *fakeBroker) GetTrades(ctx context.Context, since time.Time) ([]ports.BrokerExecution, error) {
	return b.executions, nil
}

type fakeStore struct {
	ports.Storage

	trades   []domain.Trade
	upserted []domain.Trade
}

func (s *fakeStore) GetAllTrades(ctx context.Context) ([]domain.Trade, error) {
	return s.trades, nil
}

func (s *fakeStore) UpsertTrade(ctx context.Context, t domain.Trade) error {
	s.upserted = append(s.upserted, t)
	return nil
}

func TestRun_PendingCorrectedFromBrokerFill(t *testing.T) {
	filledAt := time.Date(2026, 2, 9, 10, 15, 0, 0, time.UTC)
	broker := &fakeBroker{executions: []ports.BrokerExecution{
		{OrderID: "order-1", Symbol: "AAPL", FillPrice: decimal.NewFromFloat(0.46), FilledQty: 5, FilledAt: filledAt},
	}}
	store := &fakeStore{trades: []domain.Trade{
		{OrderID: "order-1", Symbol: "AAPL", State: domain.TradePending, EntryPremium: decimal.NewFromFloat(0.45)},
	}}

	deltas, err := Run(context.Background(), broker, store, filledAt.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, store.upserted, 1)
	corrected := store.upserted[0]
	assert.Equal(t, domain.TradeFilled, corrected.State)
	assert.True(t, corrected.EntryPremium.Equal(decimal.NewFromFloat(0.46)))
	assert.Equal(t, filledAt, corrected.EntryDate)

	require.Len(t, deltas, 1)
	assert.Equal(t, "state_mismatch", deltas[0].Kind)
}

func TestRun_LocalOnlyLoggedNotMutated(t *testing.T) {
	broker := &fakeBroker{}
	store := &fakeStore{trades: []domain.Trade{
		{OrderID: "order-2", Symbol: "MSFT", State: domain.TradePending},
	}}

	deltas, err := Run(context.Background(), broker, store, time.Now())
	require.NoError(t, err)

	assert.Empty(t, store.upserted)
	require.Len(t, deltas, 1)
	assert.Equal(t, "local_only", deltas[0].Kind)
	assert.Equal(t, "order-2", deltas[0].OrderID)
}

func TestRun_BrokerOnlyReported(t *testing.T) {
	broker := &fakeBroker{executions: []ports.BrokerExecution{
		{OrderID: "order-3", Symbol: "XOM", FillPrice: decimal.NewFromFloat(0.30), FilledQty: 2, FilledAt: time.Now()},
	}}
	store := &fakeStore{}

	deltas, err := Run(context.Background(), broker, store, time.Now())
	require.NoError(t, err)

	assert.Empty(t, store.upserted)
	require.Len(t, deltas, 1)
	assert.Equal(t, "broker_only", deltas[0].Kind)
}

func TestRun_NoDivergence(t *testing.T) {
	filledAt := time.Now()
	broker := &fakeBroker{executions: []ports.BrokerExecution{
		{OrderID: "order-4", Symbol: "AAPL", FillPrice: decimal.NewFromFloat(0.46), FilledQty: 5, FilledAt: filledAt},
	}}
	store := &fakeStore{trades: []domain.Trade{
		{OrderID: "order-4", Symbol: "AAPL", State: domain.TradeFilled, EntryPremium: decimal.NewFromFloat(0.46)},
	}}

	deltas, err := Run(context.Background(), broker, store, filledAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, deltas)
	assert.Empty(t, store.upserted)
}
