package costing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keppel-erp/keppel/internal/money"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReceipt is an inbound movement with a supplied unit cost.
	MovementReceipt MovementType = "RECEIPT"
	// MovementIssue is an outbound movement valued at the running average.
	MovementIssue MovementType = "ISSUE"
	// MovementReturn is an inbound return, costed like a receipt.
	MovementReturn MovementType = "RETURN"
)

// Movement records one signed stock movement. Qty is positive for receipts
// and returns, negative for issues. UnitCost is minor units per unit and may
// be fractional for issues valued at the average.
type Movement struct {
	ID        int64
	TenantID  int64
	ItemID    int64
	Type      MovementType
	Date      time.Time
	Qty       float64
	UnitCost  float64
	Amount    money.Amount
	RefType   string
	RefID     uuid.UUID
	CreatedAt time.Time
}

// Balance holds the running position per (tenant, item). AvgCost is the
// weighted-average unit cost in minor units, recomputed on receipts only.
type Balance struct {
	TenantID  int64
	ItemID    int64
	Qty       float64
	AvgCost   float64
	UpdatedAt time.Time
}

// MovementResult reports the outcome of a posted movement.
type MovementResult struct {
	MovementID int64
	Qty        float64
	UnitCost   float64
	Amount     money.Amount
	BalanceQty float64
	AvgCost    float64
}

var (
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = errors.New("costing: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("costing: unit cost must be >= 0")
	// ErrNegativeStock triggered when an issue would overdraw stock and the
	// negative-stock guard is enabled.
	ErrNegativeStock = errors.New("costing: negative stock not allowed")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("costing: balance not found")
)
