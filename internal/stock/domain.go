package stock

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates stock ledger movement kinds.
type MovementType string

const (
	MovementIn          MovementType = "IN"
	MovementOut         MovementType = "OUT"
	MovementInTransit   MovementType = "IN_TRANSIT"
	MovementDiscard     MovementType = "DISCARD"
	MovementReversalIn  MovementType = "REVERSAL_IN"
	MovementReversalOut MovementType = "REVERSAL_OUT"
)

// affectsOnHand marks the movement types that change on-hand quantity.
// IN_TRANSIT records the movement without touching the batch; DISCARD
// removes quantity the same way OUT does.
var affectsOnHand = map[MovementType]bool{
	MovementIn:          true,
	MovementOut:         true,
	MovementDiscard:     true,
	MovementReversalIn:  true,
	MovementReversalOut: true,
	MovementInTransit:   false,
}

// AffectsOnHand reports whether movements of type t change batch quantity.
func AffectsOnHand(t MovementType) bool {
	return affectsOnHand[t]
}

// IsInbound reports whether the movement adds quantity to the batch.
func (t MovementType) IsInbound() bool {
	return t == MovementIn || t == MovementReversalIn
}

// qtyTolerance absorbs float rounding when comparing quantities.
const qtyTolerance = 0.01

// Batch is one lot of a product in a warehouse with its moving-average cost.
type Batch struct {
	ID          int64
	CompanyID   int64
	ProductID   int64
	WarehouseID int64
	LotCode     string
	Qty         float64
	UnitCost    float64
	ExpiryDate  *time.Time
	ReceivedAt  time.Time
	UpdatedAt   time.Time
}

// Movement is one append-only stock ledger row.
type Movement struct {
	ID            int64
	CompanyID     int64
	BatchID       int64
	ProductID     int64
	WarehouseID   int64
	Type          MovementType
	Qty           float64
	UnitCost      float64
	DocType       string
	DocID         int64
	CorrelationID string
	Voided        bool
	OccurredAt    time.Time
}

// DepositInput describes a stock inflow.
type DepositInput struct {
	CompanyID     int64
	ProductID     int64
	WarehouseID   int64
	LotCode       string
	Qty           float64
	UnitCost      float64
	ExpiryDate    *time.Time
	DocType       string
	DocID         int64
	CorrelationID string
}

// WithdrawInput describes a stock outflow from a specific lot.
type WithdrawInput struct {
	CompanyID     int64
	ProductID     int64
	WarehouseID   int64
	LotCode       string
	Qty           float64
	Type          MovementType
	DocType       string
	DocID         int64
	CorrelationID string
}

// Allocation is one lot's contribution to a requested withdrawal.
type Allocation struct {
	LotCode  string
	BatchID  int64
	Qty      float64
	UnitCost float64
}

// AllocationPolicy selects the order lots are drained in.
type AllocationPolicy string

const (
	// PolicyFIFO drains lots in order of first inflow.
	PolicyFIFO AllocationPolicy = "FIFO"
	// PolicyFEFO drains lots in order of expiry date, non-expiring lots last.
	PolicyFEFO AllocationPolicy = "FEFO"
)

// ReversalSummary reports the outcome of a best-effort document reversal.
type ReversalSummary struct {
	Reversed int
	Partial  []PartialReversal
}

// PartialReversal records a lot that could not be fully restored.
type PartialReversal struct {
	LotCode      string
	RequestedQty float64
	ReversedQty  float64
}

// Errors returned by stock operations.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBatchNotFound     = errors.New("batch not found")
	ErrInvalidQty        = errors.New("quantity must be positive")
)

// InsufficientError wraps ErrInsufficientStock with lot detail.
func InsufficientError(product int64, requested, available float64) error {
	return fmt.Errorf("%w: product %d requested %.2f available %.2f",
		ErrInsufficientStock, product, requested, available)
}
