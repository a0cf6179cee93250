package procurement

import (
	"errors"
	"math"
	"time"

	"github.com/keppel-erp/keppel/internal/money"
)

// POStatus enumerates purchase order lifecycle states.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusComplete  POStatus = "COMPLETE"
	POStatusCancelled POStatus = "CANCELLED"
)

// GRNStatus enumerates goods receipt lifecycle states.
type GRNStatus string

const (
	GRNStatusReceived  GRNStatus = "RECEIVED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

// PurchaseOrder is the PO header. Total is recomputed from lines whenever a
// line is added and stored denormalised for matching.
type PurchaseOrder struct {
	ID         int64
	TenantID   int64
	SupplierID int64
	Number     string
	Status     POStatus
	Total      money.Amount
	OrderDate  time.Time
	Note       string
	CreatedAt  time.Time
}

// POLine is one ordered item. TaxRate is fractional (0.15 for 15%).
type POLine struct {
	ID          int64
	POID        int64
	Description string
	Qty         float64
	UnitPrice   money.Amount
	TaxRate     float64
}

// Total is qty * price * (1 + tax), rounded to minor units.
func (l POLine) Total() money.Amount {
	return money.FromMinor(int64(math.Round(float64(l.UnitPrice.Minor()) * l.Qty * (1 + l.TaxRate))))
}

// GoodsReceipt is the GRN header. It references exactly one PO.
type GoodsReceipt struct {
	ID         int64
	TenantID   int64
	POID       int64
	Number     string
	Status     GRNStatus
	ReceivedAt time.Time
	Note       string
	CreatedAt  time.Time
}

// GRNLine records a received quantity against one PO line.
type GRNLine struct {
	ID       int64
	GRNID    int64
	POLineID int64
	Qty      float64
}

var (
	// ErrPONotFound indicates the purchase order does not exist for the tenant.
	ErrPONotFound = errors.New("procurement: purchase order not found")
	// ErrGRNNotFound indicates the goods receipt does not exist for the tenant.
	ErrGRNNotFound = errors.New("procurement: goods receipt not found")
	// ErrPOCancelled rejects receiving against a cancelled order.
	ErrPOCancelled = errors.New("procurement: purchase order cancelled")
	// ErrInvalidState rejects a transition the current status does not allow.
	ErrInvalidState = errors.New("procurement: invalid state")
	// ErrValidation covers malformed input (missing lines, non-positive qty).
	ErrValidation = errors.New("procurement: validation failed")
	// ErrOverReceipt rejects a whole GRN when any line would push cumulative
	// received quantity past the ordered quantity.
	ErrOverReceipt = errors.New("procurement: over receipt")
)
