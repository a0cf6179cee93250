package matching

import (
	"errors"
	"time"

	"github.com/keppel-erp/keppel/internal/money"
)

// MatchCandidate is one scored document, serialized for the caller.
type MatchCandidate struct {
	ID            int64   `json:"id"`
	Number        string  `json:"number"`
	TotalMinor    int64   `json:"totalMinor"`
	DocDate       string  `json:"docDate"`
	VariancePct   float64 `json:"variancePct"`
	MatchStrength float64 `json:"matchStrength"`
}

// candidateDoc is the raw document a candidate is scored from.
type candidateDoc struct {
	ID      int64
	Number  string
	Total   money.Amount
	DocDate time.Time
}

// MatchLink records one accepted reconciliation between a bill line and a
// PO line and/or GRN line. Links are written once and never edited.
type MatchLink struct {
	ID         int64
	TenantID   int64
	BillID     int64
	BillLineID int64
	POLineID   int64
	GRNLineID  int64
	Qty        float64
	CreatedBy  int64
	CreatedAt  time.Time
}

// Bill is the header the linker validates ownership against.
type Bill struct {
	ID         int64
	TenantID   int64
	SupplierID int64
}

// POLineRef carries the PO line fields the linker needs for validation.
type POLineRef struct {
	ID         int64
	POID       int64
	TenantID   int64
	SupplierID int64
	POStatus   string
	Qty        float64
}

// GRNLineRef carries the GRN line fields the linker needs for validation.
type GRNLineRef struct {
	ID         int64
	GRNID      int64
	POID       int64
	TenantID   int64
	SupplierID int64
	GRNStatus  string
	Qty        float64
}

var (
	// ErrBillNotFound indicates the bill does not exist for the tenant.
	ErrBillNotFound = errors.New("matching: bill not found")
	// ErrOverMatch rejects a match whose quantity would exceed the line's
	// available quantity given previously recorded links.
	ErrOverMatch = errors.New("matching: matched quantity exceeds available")
	// ErrInvalidMatchCandidate rejects a match referencing a line that does
	// not belong to the expected tenant or supplier, or a cancelled document.
	ErrInvalidMatchCandidate = errors.New("matching: invalid match candidate")
	// ErrLineNotFound is the repository's not-found for PO/GRN line lookups.
	ErrLineNotFound = errors.New("matching: line not found")
)
