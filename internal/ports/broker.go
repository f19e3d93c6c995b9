package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order submitted to the broker.
type OrderSide string

const (
	SideSell OrderSide = "SELL"
	SideBuy  OrderSide = "BUY"
)

// Order is the wire shape accepted by Broker.PlaceOrder. Adaptive is true
// for the broker-native adaptive algo order; when false a plain limit is
// submitted.
type Order struct {
	Side       OrderSide
	Quantity   int
	LimitPrice decimal.Decimal
	Adaptive   bool
	TIF        string // "DAY"
}

// OrderStatusEvent is delivered on the subscription returned by
// Broker.SubscribeOrderStatus.
type OrderStatusEvent struct {
	OrderID      string
	Status       domain.OrderStatus
	FilledQty    int
	RemainingQty int
	FillPrice    decimal.Decimal
}

// Subscription is a live handle on the broker's order-status stream.
type Subscription interface {
	Events() <-chan OrderStatusEvent
	Close() error
}

// Broker is the abstract capability the core pipeline depends on: quotes,
// chains, contract qualification, order submission/cancellation, an
// order-status event stream, and fill/execution queries for
// reconciliation. All methods are context-bound so the scheduler can
// cancel in-flight calls on shutdown.
type Broker interface {
	GetStockPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
	GetOptionQuote(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, right string) (domain.Quote, error)
	GetQuote(ctx context.Context, contract domain.Contract, timeout time.Duration) (domain.Quote, error)
	GetQuotesBatch(ctx context.Context, contracts []domain.Contract, timeout time.Duration) ([]domain.Quote, error)

	GetOptionContract(symbol string, expiration time.Time, strike decimal.Decimal, right string) domain.Contract
	QualifyContracts(ctx context.Context, contracts ...domain.Contract) ([]domain.Contract, error)
	GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]decimal.Decimal, error)
	GetGreeks(ctx context.Context, contract domain.Contract, timeout time.Duration) (domain.Greeks, bool, error)

	PlaceOrder(ctx context.Context, contract domain.Contract, order Order, reason string) (orderID string, status domain.OrderStatus, err error)
	CancelOrder(ctx context.Context, orderID string, reason string) (bool, error)
	ModifyOrder(ctx context.Context, orderID string, newLimit decimal.Decimal, reason string) (string, error)

	SubscribeOrderStatus(ctx context.Context) (Subscription, error)

	GetTrades(ctx context.Context, since time.Time) ([]BrokerExecution, error)

	GetMarginRequirement(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, optType string, contracts int) (decimal.Decimal, error)
	CheckMarketDataHealth(ctx context.Context) (bool, string)

	GetVIX(ctx context.Context) (float64, error)
	GetUnderlyingProxy(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BrokerExecution is one completed order as reported by the broker, used
// by the Reconciler to detect divergence from local Trade records.
type BrokerExecution struct {
	OrderID   string
	Symbol    string
	Strike    decimal.Decimal
	FillPrice decimal.Decimal
	FilledQty int
	FilledAt  time.Time
}
