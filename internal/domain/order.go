package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType records which order shape was actually submitted.
type OrderType string

const (
	OrderAdaptive      OrderType = "ADAPTIVE"
	OrderLimit         OrderType = "LIMIT"
	OrderLimitFallback OrderType = "LIMIT_FALLBACK"
)

// OrderStatus mirrors the broker's order lifecycle states.
type OrderStatus string

const (
	StatusSubmitted    OrderStatus = "Submitted"
	StatusPreSubmit    OrderStatus = "PreSubmitted"
	StatusFilled       OrderStatus = "Filled"
	StatusCancelled    OrderStatus = "Cancelled"
	StatusApiCancelled OrderStatus = "ApiCancelled"
	StatusInactive     OrderStatus = "Inactive"
)

// Terminal reports whether a status requires no further monitoring.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusApiCancelled:
		return true
	}
	return false
}

// PendingOrder tracks one live order from submission through fill or
// cancellation. Identity is the broker-assigned OrderID; LocalID is a
// uuid minted at construction that survives cancel-and-replace re-keying
// so audit entries can be correlated across it.
type PendingOrder struct {
	LocalID  string
	OrderID  string
	Contract Contract

	CandidateID int64

	InitialLimit  decimal.Decimal
	CurrentLimit  decimal.Decimal
	LastBid       decimal.Decimal
	LastAsk       decimal.Decimal

	SubmittedAt time.Time
	LastStatus  OrderStatus

	FilledQty    int
	RemainingQty int
	FillPrice    decimal.Decimal

	OrderType       OrderType
	AdjustmentCount int
}

// NewPendingOrder constructs a PendingOrder with a fresh LocalID.
func NewPendingOrder(candidateID int64, contract Contract, limit decimal.Decimal, qty int, ot OrderType) *PendingOrder {
	return &PendingOrder{
		LocalID:      uuid.New().String(),
		Contract:     contract,
		CandidateID:  candidateID,
		InitialLimit: limit,
		CurrentLimit: limit,
		RemainingQty: qty,
		OrderType:    ot,
		LastStatus:   StatusSubmitted,
	}
}

// AuditAction enumerates the order actions the executor records.
type AuditAction string

const (
	AuditSubmit AuditAction = "submit"
	AuditCancel AuditAction = "cancel"
	AuditModify AuditAction = "modify"
)

// AuditEntry is one recorded broker-facing action, kept for post-trade
// review (e.g. confirming a cancel-and-replace actually produced two
// distinct broker order ids for the same symbol).
type AuditEntry struct {
	LocalID string
	OrderID string
	Symbol  string
	Action  AuditAction
	Reason  string
	At      time.Time
}

// OrderPlacement is the result of one Adaptive Order Placer attempt.
type OrderPlacement struct {
	OK          bool
	OrderID     string
	OrderType   OrderType
	Reason      string
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	Limit       decimal.Decimal
	StagedLimit decimal.Decimal
	Deviation   decimal.Decimal
}
