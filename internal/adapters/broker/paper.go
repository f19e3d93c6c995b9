// Package broker provides a paper (simulated) implementation of
// ports.Broker for dry runs and local testing. Batch calls are rate
// limited with golang.org/x/time/rate the same way a live adapter would
// budget its outbound calls.
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Paper is an in-memory simulated broker. Underlying prices and chains
// are seeded by the caller; quotes are derived with small synthetic
// spreads so the pipeline's pricing and gating logic can be exercised
// end-to-end without a live connection.
type Paper struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	underlying map[string]decimal.Decimal
	chains     map[string][]decimal.Decimal
	orders     map[string]*simOrder
	events     chan ports.OrderStatusEvent
}

type simOrder struct {
	contract domain.Contract
	limit    decimal.Decimal
	qty      int
	status   domain.OrderStatus
}

// NewPaper constructs a Paper broker seeded with underlying prices and
// chains for the symbols it will be asked about.
func NewPaper(underlying map[string]decimal.Decimal, chains map[string][]decimal.Decimal) *Paper {
	return &Paper{
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		underlying: underlying,
		chains:     chains,
		orders:     make(map[string]*simOrder),
		events:     make(chan ports.OrderStatusEvent, 128),
	}
}

func (p *Paper) GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return decimal.Zero, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.underlying[symbol]
	return price, ok, nil
}

func (p *Paper) quoteFor(strike decimal.Decimal, underlying decimal.Decimal) domain.Quote {
	otm := underlying.Sub(strike).Div(underlying)
	base := decimal.NewFromFloat(0.01).Add(otm.Mul(decimal.NewFromFloat(-2)).Add(decimal.NewFromFloat(0.5)))
	if base.LessThan(decimal.NewFromFloat(0.05)) {
		base = decimal.NewFromFloat(0.05)
	}
	spread := decimal.NewFromFloat(0.05)
	bid := base.Round(2)
	ask := base.Add(spread).Round(2)
	return domain.NewQuote(bid, ask, decimal.Zero, 100, time.Now())
}

func (p *Paper) GetOptionQuote(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, right string) (domain.Quote, error) {
	p.mu.Lock()
	underlying := p.underlying[symbol]
	p.mu.Unlock()
	if underlying.IsZero() {
		return domain.Quote{}, fmt.Errorf("broker.Paper: unknown symbol %s", symbol)
	}
	return p.quoteFor(strike, underlying), nil
}

func (p *Paper) GetQuote(ctx context.Context, contract domain.Contract, timeout time.Duration) (domain.Quote, error) {
	return p.GetOptionQuote(ctx, contract.Symbol, contract.Strike, contract.Expiration, contract.Right)
}

func (p *Paper) GetQuotesBatch(ctx context.Context, contracts []domain.Contract, timeout time.Duration) ([]domain.Quote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Quote, len(contracts))
	for i, c := range contracts {
		q, err := p.GetQuote(ctx, c, timeout)
		if err != nil {
			out[i] = domain.Quote{Reason: err.Error()}
			continue
		}
		out[i] = q
	}
	return out, nil
}

func (p *Paper) GetOptionContract(symbol string, expiration time.Time, strike decimal.Decimal, right string) domain.Contract {
	return domain.Contract{Symbol: symbol, Strike: strike, Expiration: expiration, Right: right}
}

func (p *Paper) QualifyContracts(ctx context.Context, contracts ...domain.Contract) ([]domain.Contract, error) {
	out := make([]domain.Contract, len(contracts))
	for i, c := range contracts {
		c.ConID = rand.Int63n(1_000_000) + 1
		out[i] = c
	}
	return out, nil
}

func (p *Paper) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chains[symbol], nil
}

func (p *Paper) GetGreeks(ctx context.Context, contract domain.Contract, timeout time.Duration) (domain.Greeks, bool, error) {
	p.mu.Lock()
	underlying := p.underlying[contract.Symbol]
	p.mu.Unlock()
	if underlying.IsZero() {
		return domain.Greeks{}, false, nil
	}
	q := p.quoteFor(contract.Strike, underlying)
	otm, _ := underlying.Sub(contract.Strike).Div(underlying).Float64()
	delta := -(0.5 - otm*2)
	if delta > 0 {
		delta = -0.01
	}
	return domain.Greeks{
		Delta: delta, IV: 0.35, Gamma: 0.01, Theta: -0.02,
		Bid: q.Bid, Ask: q.Ask, Volume: 150, OpenInterest: 500,
	}, true, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, contract domain.Contract, order ports.Order, reason string) (string, domain.OrderStatus, error) {
	id := uuid.New().String()
	p.mu.Lock()
	p.orders[id] = &simOrder{contract: contract, limit: order.LimitPrice, qty: order.Quantity, status: domain.StatusSubmitted}
	p.mu.Unlock()
	return id, domain.StatusSubmitted, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string, reason string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return false, fmt.Errorf("broker.Paper: unknown order %s", orderID)
	}
	o.status = domain.StatusCancelled
	select {
	case p.events <- ports.OrderStatusEvent{OrderID: orderID, Status: domain.StatusCancelled}:
	default:
	}
	return true, nil
}

func (p *Paper) ModifyOrder(ctx context.Context, orderID string, newLimit decimal.Decimal, reason string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return "", fmt.Errorf("broker.Paper: unknown order %s", orderID)
	}
	o.limit = newLimit
	return orderID, nil
}

type paperSub struct{ ch chan ports.OrderStatusEvent }

func (s paperSub) Events() <-chan ports.OrderStatusEvent { return s.ch }
func (s paperSub) Close() error                          { return nil }

func (p *Paper) SubscribeOrderStatus(ctx context.Context) (ports.Subscription, error) {
	return paperSub{ch: p.events}, nil
}

// Fill simulates a fill event for testing; not part of ports.Broker.
func (p *Paper) Fill(orderID string, qty int, price decimal.Decimal) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if ok {
		o.status = domain.StatusFilled
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.events <- ports.OrderStatusEvent{OrderID: orderID, Status: domain.StatusFilled, FilledQty: qty, RemainingQty: o.qty - qty, FillPrice: price}
}

func (p *Paper) GetTrades(ctx context.Context, since time.Time) ([]ports.BrokerExecution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ports.BrokerExecution
	for id, o := range p.orders {
		if o.status != domain.StatusFilled {
			continue
		}
		out = append(out, ports.BrokerExecution{OrderID: id, Symbol: o.contract.Symbol, Strike: o.contract.Strike, FillPrice: o.limit, FilledQty: o.qty, FilledAt: time.Now()})
	}
	return out, nil
}

func (p *Paper) GetMarginRequirement(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, optType string, contracts int) (decimal.Decimal, error) {
	return strike.Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(contracts))), nil
}

func (p *Paper) CheckMarketDataHealth(ctx context.Context) (bool, string) {
	return true, "ok"
}

func (p *Paper) GetVIX(ctx context.Context) (float64, error) {
	return 18.5, nil
}

func (p *Paper) GetUnderlyingProxy(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underlying[symbol], nil
}
