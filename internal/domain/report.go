package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionSummary is the per-candidate outcome recorded in a report.
// ContractsFilled is populated from the broker's real filled quantity at
// terminal status, never derived from FillTime.
type ExecutionSummary struct {
	CandidateID     int64
	Symbol          string
	Strike          decimal.Decimal
	Expiration      time.Time
	OrderID         string
	OrderType       OrderType
	SubmittedLimit  decimal.Decimal
	FillPrice       decimal.Decimal
	ContractsFilled int
	FillTime        time.Time
	AdjustmentsMade int
	Outcome         string // "filled" | "working" | "failed" | "skipped"
	Reason          string
}

// ExecutionReport is the aggregated outcome of one weekend batch. It is
// built incrementally across the scheduler's phases and emitted once at
// the end.
type ExecutionReport struct {
	Date      time.Time
	StartedAt time.Time
	EndedAt   time.Time

	Staged    int
	Validated int
	Confirmed int
	Submitted int

	SubmissionDuration time.Duration
	MonitoringDuration time.Duration

	Filled  []ExecutionSummary
	Working []ExecutionSummary
	Failed  []ExecutionSummary
	Skipped []ExecutionSummary

	TotalPremium decimal.Decimal
	Warnings     []string
}

// AddWarning appends a batch-level warning.
func (r *ExecutionReport) AddWarning(w string) {
	r.Warnings = append(r.Warnings, w)
}

// Recalculate recomputes TotalPremium from the filled list. Contracts are
// 100 shares of underlying each.
func (r *ExecutionReport) Recalculate() {
	total := decimal.Zero
	for _, f := range r.Filled {
		total = total.Add(f.FillPrice.Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(f.ContractsFilled))))
	}
	r.TotalPremium = total
}
