package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/money"
)

// DocumentRepository reads the monetary breakdown of source documents from
// the surrounding system's tables.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Invoice(ctx context.Context, tenantID, id int64) (InvoiceDoc, error) {
	var doc InvoiceDoc
	var subtotal, tax, total int64
	err := r.pool.QueryRow(ctx, `
SELECT id, number, issue_date, COALESCE(customer_ref, ''), subtotal_minor, tax_minor, total_minor
FROM invoices
WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(
		&doc.ID, &doc.Number, &doc.Date, &doc.CustomerRef, &subtotal, &tax, &total)
	if err != nil {
		return InvoiceDoc{}, notFoundOr(err, "invoice", id)
	}
	doc.Subtotal = money.FromMinor(subtotal)
	doc.Tax = money.FromMinor(tax)
	doc.Total = money.FromMinor(total)
	return doc, nil
}

func (r *DocumentRepository) Bill(ctx context.Context, tenantID, id int64) (BillDoc, error) {
	var doc BillDoc
	var tax, total int64
	err := r.pool.QueryRow(ctx, `
SELECT id, number, issue_date, COALESCE(supplier_ref, ''), tax_minor, total_minor
FROM bills
WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(
		&doc.ID, &doc.Number, &doc.Date, &doc.SupplierRef, &tax, &total)
	if err != nil {
		return BillDoc{}, notFoundOr(err, "bill", id)
	}
	doc.Tax = money.FromMinor(tax)
	doc.Total = money.FromMinor(total)

	rows, err := r.pool.Query(ctx, `
SELECT COALESCE(description, ''), amount_minor
FROM bill_lines
WHERE bill_id=$1
ORDER BY id`, id)
	if err != nil {
		return BillDoc{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line BillDocLine
		var amount int64
		if err := rows.Scan(&line.Description, &amount); err != nil {
			return BillDoc{}, err
		}
		line.Amount = money.FromMinor(amount)
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func (r *DocumentRepository) Payment(ctx context.Context, tenantID, id int64) (PaymentDoc, error) {
	var doc PaymentDoc
	var direction string
	var amount int64
	err := r.pool.QueryRow(ctx, `
SELECT id, number, paid_at, direction, COALESCE(party_ref, ''), amount_minor
FROM payments
WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(
		&doc.ID, &doc.Number, &doc.Date, &direction, &doc.PartyRef, &amount)
	if err != nil {
		return PaymentDoc{}, notFoundOr(err, "payment", id)
	}
	doc.Direction = PaymentDirection(direction)
	doc.Amount = money.FromMinor(amount)
	return doc, nil
}

func (r *DocumentRepository) Movement(ctx context.Context, tenantID, id int64) (MovementDoc, error) {
	var doc MovementDoc
	var amount int64
	err := r.pool.QueryRow(ctx, `
SELECT id, movement_date, COALESCE(ref_type, ''), qty, amount_minor
FROM inventory_movements
WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(
		&doc.ID, &doc.Date, &doc.Ref, &doc.Qty, &amount)
	if err != nil {
		return MovementDoc{}, notFoundOr(err, "inventory movement", id)
	}
	doc.Amount = money.FromMinor(amount)
	return doc, nil
}

func notFoundOr(err error, kind string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", ErrDocumentNotFound, kind, id)
	}
	return err
}
