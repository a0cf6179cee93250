package ledger

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keppel-erp/keppel/internal/money"
)

var validate = validator.New()

// PaymentDirection distinguishes customer receipts from supplier payments.
type PaymentDirection string

const (
	PaymentReceived PaymentDirection = "RECEIVED"
	PaymentMade     PaymentDirection = "MADE"
)

// InvoiceDoc is the monetary breakdown of a sales invoice as supplied by
// the document store.
type InvoiceDoc struct {
	ID          int64  `validate:"required"`
	Number      string `validate:"required"`
	Date        time.Time
	CustomerRef string
	Subtotal    money.Amount
	Tax         money.Amount
	Total       money.Amount
}

// BillDocLine carries one expense line of a supplier bill.
type BillDocLine struct {
	Description string
	Amount      money.Amount
}

// BillDoc is the monetary breakdown of a supplier bill.
type BillDoc struct {
	ID          int64  `validate:"required"`
	Number      string `validate:"required"`
	Date        time.Time
	SupplierRef string
	Lines       []BillDocLine `validate:"min=1"`
	Tax         money.Amount
	Total       money.Amount
}

// PaymentDoc describes a settled payment.
type PaymentDoc struct {
	ID        int64            `validate:"required"`
	Number    string           `validate:"required"`
	Date      time.Time
	Direction PaymentDirection `validate:"required,oneof=RECEIVED MADE"`
	PartyRef  string
	Amount    money.Amount `validate:"gt=0"`
}

// MovementDoc is a costed inventory movement awaiting posting. Amount is the
// monetary value emitted by the costing service; Qty keeps the sign of the
// underlying movement.
type MovementDoc struct {
	ID     int64 `validate:"required"`
	Date   time.Time
	Ref    string
	Qty    float64      `validate:"ne=0"`
	Amount money.Amount `validate:"gt=0"`
}

// PostResult reports the journal entry bound to a source document.
// AlreadyPosted is set when an earlier posting was found and nothing
// was written.
type PostResult struct {
	EntryID       int64
	AlreadyPosted bool
}
