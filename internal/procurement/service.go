package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keppel-erp/keppel/internal/audit"
	"github.com/keppel-erp/keppel/internal/money"
	"github.com/keppel-erp/keppel/internal/sequence"
)

var validate = validator.New()

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, tenantID, poID int64) (PurchaseOrder, []POLine, error)
	GetGRN(ctx context.Context, tenantID, grnID int64) (GoodsReceipt, []GRNLine, error)
}

// TxRepository groups the transaction-scoped operations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	UpdatePOTotal(ctx context.Context, poID int64, total money.Amount) error
	UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error
	GetPOForUpdate(ctx context.Context, tenantID, poID int64) (PurchaseOrder, []POLine, error)
	ReceivedQuantities(ctx context.Context, poID int64) (map[int64]float64, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line GRNLine) (int64, error)
	GetGRNForUpdate(ctx context.Context, tenantID, grnID int64) (GoodsReceipt, []GRNLine, error)
	UpdateGRNStatus(ctx context.Context, grnID int64, status GRNStatus) error
	// AllocateNumber consumes the next document number on this transaction,
	// so a rolled-back document never burns a number.
	AllocateNumber(ctx context.Context, key sequence.CounterKey) (sequence.Allocation, error)
}

// AuditPort records procurement actions.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// Service owns PO and GRN aggregates: ordering, receiving with over-receipt
// protection, and receipt cancellation.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, auditor AuditPort) *Service {
	return &Service{repo: repo, audit: auditor, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// POLineInput describes one ordered item.
type POLineInput struct {
	Description string  `validate:"required"`
	Qty         float64 `validate:"gt=0"`
	UnitPrice   money.Amount
	TaxRate     float64 `validate:"gte=0"`
}

// CreatePOInput describes a new purchase order.
type CreatePOInput struct {
	TenantID   int64 `validate:"required"`
	SupplierID int64 `validate:"required"`
	OrderDate  time.Time
	Note       string
	Lines      []POLineInput
}

// GRNLineInput records a quantity received against one PO line.
type GRNLineInput struct {
	POLineID int64   `validate:"required"`
	Qty      float64 `validate:"gt=0"`
}

// CreateGRNInput describes a goods receipt against a PO.
type CreateGRNInput struct {
	TenantID   int64 `validate:"required"`
	POID       int64 `validate:"required"`
	ReceivedAt time.Time
	Note       string
	Lines      []GRNLineInput
}

// CreatePO persists the header and lines and stores the computed total.
func (s *Service) CreatePO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := validate.Struct(input); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	orderDate := defaultTime(input.OrderDate, s.now)
	po := PurchaseOrder{
		TenantID:   input.TenantID,
		SupplierID: input.SupplierID,
		Status:     POStatusDraft,
		OrderDate:  orderDate,
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := tx.AllocateNumber(ctx, sequence.CounterKey{
			TenantID: input.TenantID,
			DocType:  sequence.DocTypePurchaseOrder,
			Year:     orderDate.Year(),
		})
		if err != nil {
			return err
		}
		po.Number = alloc.Code
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		var total money.Amount
		for _, line := range input.Lines {
			if line.Qty <= 0 || line.UnitPrice < 0 || line.TaxRate < 0 {
				return ErrValidation
			}
			poLine := POLine{POID: poID, Description: line.Description, Qty: line.Qty, UnitPrice: line.UnitPrice, TaxRate: line.TaxRate}
			if _, err := tx.InsertPOLine(ctx, poLine); err != nil {
				return err
			}
			total += poLine.Total()
		}
		po.Total = total
		return tx.UpdatePOTotal(ctx, poID, total)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, po.TenantID, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "total": po.Total.String()})
	return po, nil
}

// AddLine appends a line to a draft or partial PO and recomputes the total.
func (s *Service) AddLine(ctx context.Context, tenantID, poID int64, input POLineInput) (PurchaseOrder, error) {
	if input.Qty <= 0 || input.UnitPrice < 0 || input.TaxRate < 0 {
		return PurchaseOrder{}, ErrValidation
	}
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, lines, err := tx.GetPOForUpdate(ctx, tenantID, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return ErrInvalidState
		}
		line := POLine{POID: poID, Description: input.Description, Qty: input.Qty, UnitPrice: input.UnitPrice, TaxRate: input.TaxRate}
		if _, err := tx.InsertPOLine(ctx, line); err != nil {
			return err
		}
		total := line.Total()
		for _, existing := range lines {
			total += existing.Total()
		}
		if err := tx.UpdatePOTotal(ctx, poID, total); err != nil {
			return err
		}
		// An order that was fully received is no longer complete once it
		// carries an unreceived line.
		if po.Status == POStatusComplete {
			if err := tx.UpdatePOStatus(ctx, poID, POStatusPartial); err != nil {
				return err
			}
			po.Status = POStatusPartial
		}
		po.Total = total
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return updated, nil
}

// CancelPO marks an order cancelled. Receiving against it is rejected after.
func (s *Service) CancelPO(ctx context.Context, tenantID, poID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetPOForUpdate(ctx, tenantID, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return nil
		}
		return tx.UpdatePOStatus(ctx, poID, POStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, "PO_CANCEL", poID, nil)
	return nil
}

// GetPO returns the header and lines for the tenant.
func (s *Service) GetPO(ctx context.Context, tenantID, poID int64) (PurchaseOrder, []POLine, error) {
	return s.repo.GetPO(ctx, tenantID, poID)
}

// ReceiveGoods records a GRN against a PO. The PO lines are locked and
// cumulative received quantities re-read inside the transaction; if any line
// would exceed its ordered quantity the whole receipt is rejected. On success
// the PO status rolls up to COMPLETE when every line is fully received, else
// PARTIAL.
func (s *Service) ReceiveGoods(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	if err := validate.Struct(input); err != nil {
		return GoodsReceipt{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: at least one line", ErrValidation)
	}
	receivedAt := defaultTime(input.ReceivedAt, s.now)
	grn := GoodsReceipt{
		TenantID:   input.TenantID,
		POID:       input.POID,
		Status:     GRNStatusReceived,
		ReceivedAt: receivedAt,
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, poLines, err := tx.GetPOForUpdate(ctx, input.TenantID, input.POID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return ErrPOCancelled
		}
		ordered := make(map[int64]float64, len(poLines))
		for _, line := range poLines {
			ordered[line.ID] = line.Qty
		}
		received, err := tx.ReceivedQuantities(ctx, input.POID)
		if err != nil {
			return err
		}
		incoming := make(map[int64]float64, len(input.Lines))
		for _, line := range input.Lines {
			if line.Qty <= 0 {
				return fmt.Errorf("%w: quantity must be positive", ErrValidation)
			}
			orderedQty, ok := ordered[line.POLineID]
			if !ok {
				return fmt.Errorf("%w: line %d not on order", ErrValidation, line.POLineID)
			}
			incoming[line.POLineID] += line.Qty
			if received[line.POLineID]+incoming[line.POLineID] > orderedQty {
				return fmt.Errorf("%w: line %d ordered %.2f already received %.2f requested %.2f",
					ErrOverReceipt, line.POLineID, orderedQty, received[line.POLineID], incoming[line.POLineID])
			}
		}
		alloc, err := tx.AllocateNumber(ctx, sequence.CounterKey{
			TenantID: input.TenantID,
			DocType:  sequence.DocTypeGoodsReceipt,
			Year:     receivedAt.Year(),
		})
		if err != nil {
			return err
		}
		grn.Number = alloc.Code
		grnID, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = grnID
		for _, line := range input.Lines {
			if _, err := tx.InsertGRNLine(ctx, GRNLine{GRNID: grnID, POLineID: line.POLineID, Qty: line.Qty}); err != nil {
				return err
			}
		}
		status := rollupStatus(poLines, func(lineID int64) float64 {
			return received[lineID] + incoming[lineID]
		})
		return tx.UpdatePOStatus(ctx, input.POID, status)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, grn.TenantID, "GRN_CREATE", grn.ID, map[string]any{"number": grn.Number, "po_id": grn.POID})
	return grn, nil
}

// CancelGRN voids a receipt, releasing its quantities for re-receipt, and
// re-derives the PO status from the receipts that remain.
func (s *Service) CancelGRN(ctx context.Context, tenantID, grnID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, _, err := tx.GetGRNForUpdate(ctx, tenantID, grnID)
		if err != nil {
			return err
		}
		if grn.Status == GRNStatusCancelled {
			return nil
		}
		po, poLines, err := tx.GetPOForUpdate(ctx, tenantID, grn.POID)
		if err != nil {
			return err
		}
		if err := tx.UpdateGRNStatus(ctx, grnID, GRNStatusCancelled); err != nil {
			return err
		}
		received, err := tx.ReceivedQuantities(ctx, grn.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusCancelled {
			status := rollupStatus(poLines, func(lineID int64) float64 { return received[lineID] })
			if err := tx.UpdatePOStatus(ctx, grn.POID, status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, "GRN_CANCEL", grnID, nil)
	return nil
}

// GetGRN returns the header and lines for the tenant.
func (s *Service) GetGRN(ctx context.Context, tenantID, grnID int64) (GoodsReceipt, []GRNLine, error) {
	return s.repo.GetGRN(ctx, tenantID, grnID)
}

func rollupStatus(lines []POLine, receivedFor func(lineID int64) float64) POStatus {
	if len(lines) == 0 {
		return POStatusDraft
	}
	any := false
	all := true
	for _, line := range lines {
		qty := receivedFor(line.ID)
		if qty > 0 {
			any = true
		}
		if qty < line.Qty {
			all = false
		}
	}
	switch {
	case all:
		return POStatusComplete
	case any:
		return POStatusPartial
	default:
		return POStatusDraft
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, audit.Log{
		TenantID: tenantID,
		Action:   action,
		Entity:   "procurement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}

func defaultTime(value time.Time, now func() time.Time) time.Time {
	if value.IsZero() {
		return now()
	}
	return value
}
