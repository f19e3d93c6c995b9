package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
)

// EntrySnapshot is a rich feature record captured at fill time for a
// downstream learning component; its shape is opaque to the core.
type EntrySnapshot struct {
	TradeID string
	Fields  map[string]any
}

// Storage persists Trade rows and candidate lifecycle transitions. Trade
// lookups are keyed by OrderID so repeated calls for the same order are
// upserts, never duplicate inserts.
type Storage interface {
	ApplySchema(ctx context.Context) error

	InsertTrade(ctx context.Context, t domain.Trade) error
	GetTradeByOrderID(ctx context.Context, orderID string) (domain.Trade, bool, error)
	UpsertTrade(ctx context.Context, t domain.Trade) error

	InsertEntrySnapshot(ctx context.Context, s EntrySnapshot) error
	UpdateCandidateState(ctx context.Context, candidateID int64, state domain.CandidateState) error

	GetAllTrades(ctx context.Context) ([]domain.Trade, error)

	Close() error
}

// Notifier renders an ExecutionReport for a human operator.
type Notifier interface {
	Notify(ctx context.Context, report domain.ExecutionReport) error
}

// Clock abstracts wall-clock gates so tests can drive the scheduler
// without sleeping for real. Real implementations wrap time.Now/time.Sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
