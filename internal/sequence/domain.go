package sequence

import "errors"

// DocType enumerates document families with their own number series.
type DocType string

const (
	DocTypeQuote         DocType = "QUOTE"
	DocTypeSalesOrder    DocType = "SALES_ORDER"
	DocTypeInvoice       DocType = "INVOICE"
	DocTypeCreditNote    DocType = "CREDIT_NOTE"
	DocTypeBill          DocType = "BILL"
	DocTypePayment       DocType = "PAYMENT"
	DocTypePurchaseOrder DocType = "PURCHASE_ORDER"
	DocTypeGoodsReceipt  DocType = "GOODS_RECEIPT"
)

var prefixes = map[DocType]string{
	DocTypeQuote:         "Q",
	DocTypeSalesOrder:    "SO",
	DocTypeInvoice:       "INV",
	DocTypeCreditNote:    "CN",
	DocTypeBill:          "BILL",
	DocTypePayment:       "PAY",
	DocTypePurchaseOrder: "PO",
	DocTypeGoodsReceipt:  "GRN",
}

// CounterKey identifies one number series. Series are scoped per tenant,
// document type and calendar year; different keys never contend.
type CounterKey struct {
	TenantID int64
	DocType  DocType
	Year     int
}

// Allocation is the result of consuming one number from a series.
type Allocation struct {
	Code   string
	Number int64
}

var (
	// ErrInvalidDocumentType indicates an unsupported document type.
	ErrInvalidDocumentType = errors.New("sequence: invalid document type")
	// ErrTenantRequired indicates a missing tenant id.
	ErrTenantRequired = errors.New("sequence: tenant required")
)
