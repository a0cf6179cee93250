package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keppel-erp/keppel/internal/audit"
	"github.com/keppel-erp/keppel/internal/money"
)

var validate = validator.New()

// MatcherRepositoryPort exposes the read-only lookups scoring needs.
type MatcherRepositoryPort interface {
	ListActivePOs(ctx context.Context, tenantID, supplierID int64) ([]candidateDoc, error)
	ListGRNsForPO(ctx context.Context, poID int64) ([]candidateDoc, error)
	TolerancePct(ctx context.Context, tenantID int64) (float64, bool, error)
}

// Matcher scores candidate documents against a bill or receipt total. It is
// read-only and never mutates PO, GRN, or bill state.
type Matcher struct {
	repo             MatcherRepositoryPort
	defaultTolerance float64
}

// NewMatcher constructs a Matcher. defaultTolerancePct applies to tenants
// without a configured tolerance.
func NewMatcher(repo MatcherRepositoryPort, defaultTolerancePct float64) *Matcher {
	if defaultTolerancePct <= 0 {
		defaultTolerancePct = 5
	}
	return &Matcher{repo: repo, defaultTolerance: defaultTolerancePct}
}

// FindPOMatches ranks the supplier's active purchase orders by closeness to
// candidateTotal. tolerancePct 0 means "use the tenant setting". Candidates
// outside tolerance are excluded.
func (m *Matcher) FindPOMatches(ctx context.Context, tenantID, supplierID int64, candidateTotal money.Amount, tolerancePct float64) ([]MatchCandidate, error) {
	if tolerancePct <= 0 {
		configured, ok, err := m.repo.TolerancePct(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if ok {
			tolerancePct = configured
		} else {
			tolerancePct = m.defaultTolerance
		}
	}
	docs, err := m.repo.ListActivePOs(ctx, tenantID, supplierID)
	if err != nil {
		return nil, err
	}
	scored := make([]MatchCandidate, 0, len(docs))
	for _, doc := range docs {
		variance, strength, ok := poScore(doc.Total, candidateTotal, tolerancePct)
		if !ok {
			continue
		}
		scored = append(scored, MatchCandidate{
			ID:            doc.ID,
			Number:        doc.Number,
			TotalMinor:    doc.Total.Minor(),
			DocDate:       doc.DocDate.Format("2006-01-02"),
			VariancePct:   variance,
			MatchStrength: strength,
		})
	}
	return rank(docs, scored), nil
}

// FindGRNMatches ranks non-cancelled receipts of one PO by closeness to
// candidateTotal with the steeper GRN penalty. No tolerance cutoff applies;
// strength simply bottoms out at zero.
func (m *Matcher) FindGRNMatches(ctx context.Context, poID int64, candidateTotal money.Amount) ([]MatchCandidate, error) {
	docs, err := m.repo.ListGRNsForPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	scored := make([]MatchCandidate, 0, len(docs))
	for _, doc := range docs {
		variance, strength, ok := grnScore(doc.Total, candidateTotal)
		if !ok {
			continue
		}
		scored = append(scored, MatchCandidate{
			ID:            doc.ID,
			Number:        doc.Number,
			TotalMinor:    doc.Total.Minor(),
			DocDate:       doc.DocDate.Format("2006-01-02"),
			VariancePct:   variance,
			MatchStrength: strength,
		})
	}
	return rank(docs, scored), nil
}

// LinkerRepositoryPort exposes the transactional lookups the linker needs.
type LinkerRepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, LinkerTxRepository) error) error
}

// LinkerTxRepository groups the transaction-scoped operations. The ForUpdate
// lookups lock the underlying line rows so concurrent link batches touching
// the same line serialize.
type LinkerTxRepository interface {
	GetBill(ctx context.Context, tenantID, billID int64) (Bill, error)
	GetPOLineForUpdate(ctx context.Context, poLineID int64) (POLineRef, error)
	GetGRNLineForUpdate(ctx context.Context, grnLineID int64) (GRNLineRef, error)
	MatchedQtyForPOLine(ctx context.Context, poLineID int64) (float64, error)
	MatchedQtyForGRNLine(ctx context.Context, grnLineID int64) (float64, error)
	InsertLink(ctx context.Context, link MatchLink) (int64, error)
}

// AuditPort records applied link batches.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// MatchInput is one requested link. POLineID and GRNLineID are optional but
// at least one must be set.
type MatchInput struct {
	BillLineID int64 `validate:"required"`
	POLineID   int64
	GRNLineID  int64
	Qty        float64
}

// ApplyInput is a batch of requested links for one bill.
type ApplyInput struct {
	TenantID int64 `validate:"required"`
	BillID   int64 `validate:"required"`
	ActorID  int64
	Matches  []MatchInput `validate:"min=1"`
}

// MatchError reports one rejected match within a batch.
type MatchError struct {
	Index      int    `json:"index"`
	BillLineID int64  `json:"billLineId"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// ApplyResult summarises a batch: how many links were written and which
// matches were skipped.
type ApplyResult struct {
	Inserted int          `json:"inserted"`
	Errors   []MatchError `json:"errors"`
}

// Linker persists accepted matches with over-match protection. Invalid
// matches are skipped and reported; the surviving matches commit together in
// one transaction.
type Linker struct {
	repo  LinkerRepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewLinker constructs a Linker.
func NewLinker(repo LinkerRepositoryPort, auditor AuditPort) *Linker {
	return &Linker{repo: repo, audit: auditor, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (l *Linker) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// ApplyMatches validates and writes a batch of links. Each match is checked
// against the bill's tenant and supplier, document status, and the line's
// available quantity re-read under a row lock; failures are reported
// per-match and do not abort the batch. A repository error aborts the whole
// batch and no links are written.
func (l *Linker) ApplyMatches(ctx context.Context, input ApplyInput) (ApplyResult, error) {
	if err := validate.Struct(input); err != nil {
		return ApplyResult{}, fmt.Errorf("matching: %w", err)
	}
	var result ApplyResult
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx LinkerTxRepository) error {
		bill, err := tx.GetBill(ctx, input.TenantID, input.BillID)
		if err != nil {
			return err
		}
		// first pass: validate everything under the row locks; quantities
		// accepted earlier in the batch count against later matches
		pendingPO := make(map[int64]float64)
		pendingGRN := make(map[int64]float64)
		var accepted []MatchInput
		for i, match := range input.Matches {
			reject, err := l.checkMatch(ctx, tx, bill, match, pendingPO, pendingGRN)
			if err != nil {
				return err
			}
			if reject != nil {
				result.Errors = append(result.Errors, MatchError{
					Index:      i,
					BillLineID: match.BillLineID,
					Kind:       rejectKind(reject),
					Message:    reject.Error(),
				})
				continue
			}
			if match.POLineID != 0 {
				pendingPO[match.POLineID] += match.Qty
			}
			if match.GRNLineID != 0 {
				pendingGRN[match.GRNLineID] += match.Qty
			}
			accepted = append(accepted, match)
		}
		// second pass: writes happen only after the whole batch validated
		for _, match := range accepted {
			if _, err := tx.InsertLink(ctx, MatchLink{
				TenantID:   input.TenantID,
				BillID:     input.BillID,
				BillLineID: match.BillLineID,
				POLineID:   match.POLineID,
				GRNLineID:  match.GRNLineID,
				Qty:        match.Qty,
				CreatedBy:  input.ActorID,
				CreatedAt:  l.now(),
			}); err != nil {
				return err
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	l.recordAudit(ctx, input, result)
	return result, nil
}

// checkMatch returns the per-match rejection, or a non-nil second error for
// repository failures that must abort the whole batch. Not-found lookups are
// rejections, not batch failures.
func (l *Linker) checkMatch(ctx context.Context, tx LinkerTxRepository, bill Bill, match MatchInput, pendingPO, pendingGRN map[int64]float64) (error, error) {
	if match.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidMatchCandidate), nil
	}
	if match.POLineID == 0 && match.GRNLineID == 0 {
		return fmt.Errorf("%w: match references no line", ErrInvalidMatchCandidate), nil
	}
	if match.POLineID != 0 {
		ref, err := tx.GetPOLineForUpdate(ctx, match.POLineID)
		if err != nil {
			if errors.Is(err, ErrLineNotFound) {
				return fmt.Errorf("%w: po line %d not found", ErrInvalidMatchCandidate, match.POLineID), nil
			}
			return nil, err
		}
		if ref.TenantID != bill.TenantID || ref.SupplierID != bill.SupplierID {
			return fmt.Errorf("%w: po line %d belongs to another supplier", ErrInvalidMatchCandidate, match.POLineID), nil
		}
		if ref.POStatus == "CANCELLED" {
			return fmt.Errorf("%w: po line %d on cancelled order", ErrInvalidMatchCandidate, match.POLineID), nil
		}
		matched, err := tx.MatchedQtyForPOLine(ctx, match.POLineID)
		if err != nil {
			return nil, err
		}
		if matched+pendingPO[match.POLineID]+match.Qty > ref.Qty {
			return fmt.Errorf("%w: po line %d ordered %.2f matched %.2f requested %.2f",
				ErrOverMatch, match.POLineID, ref.Qty, matched+pendingPO[match.POLineID], match.Qty), nil
		}
	}
	if match.GRNLineID != 0 {
		ref, err := tx.GetGRNLineForUpdate(ctx, match.GRNLineID)
		if err != nil {
			if errors.Is(err, ErrLineNotFound) {
				return fmt.Errorf("%w: grn line %d not found", ErrInvalidMatchCandidate, match.GRNLineID), nil
			}
			return nil, err
		}
		if ref.TenantID != bill.TenantID || ref.SupplierID != bill.SupplierID {
			return fmt.Errorf("%w: grn line %d belongs to another supplier", ErrInvalidMatchCandidate, match.GRNLineID), nil
		}
		if ref.GRNStatus == "CANCELLED" {
			return fmt.Errorf("%w: grn line %d on cancelled receipt", ErrInvalidMatchCandidate, match.GRNLineID), nil
		}
		matched, err := tx.MatchedQtyForGRNLine(ctx, match.GRNLineID)
		if err != nil {
			return nil, err
		}
		if matched+pendingGRN[match.GRNLineID]+match.Qty > ref.Qty {
			return fmt.Errorf("%w: grn line %d received %.2f matched %.2f requested %.2f",
				ErrOverMatch, match.GRNLineID, ref.Qty, matched+pendingGRN[match.GRNLineID], match.Qty), nil
		}
	}
	return nil, nil
}

func rejectKind(err error) string {
	switch {
	case errors.Is(err, ErrOverMatch):
		return "OVER_MATCH"
	case errors.Is(err, ErrInvalidMatchCandidate):
		return "INVALID_MATCH_CANDIDATE"
	default:
		return "ERROR"
	}
}

func (l *Linker) recordAudit(ctx context.Context, input ApplyInput, result ApplyResult) {
	if l.audit == nil {
		return
	}
	_ = l.audit.Record(ctx, audit.Log{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Action:   "MATCH_APPLY",
		Entity:   "bill",
		EntityID: fmt.Sprintf("%d", input.BillID),
		Meta:     map[string]any{"inserted": result.Inserted, "rejected": len(result.Errors)},
		At:       l.now(),
	})
}
