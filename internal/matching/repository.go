package matching

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/money"
)

// Repository provides PostgreSQL backed persistence for both the matcher and
// the linker.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActivePOs returns non-cancelled purchase orders for the supplier.
func (r *Repository) ListActivePOs(ctx context.Context, tenantID, supplierID int64) ([]candidateDoc, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, number, total_minor, order_date
FROM purchase_orders
WHERE tenant_id=$1 AND supplier_id=$2 AND status <> 'CANCELLED'
ORDER BY order_date DESC, id DESC`, tenantID, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// ListGRNsForPO returns non-cancelled receipts of one PO. A receipt's total
// is derived from its lines priced at the PO line's unit price and tax.
func (r *Repository) ListGRNsForPO(ctx context.Context, poID int64) ([]candidateDoc, error) {
	rows, err := r.pool.Query(ctx, `
SELECT g.id, g.number,
       COALESCE(SUM(ROUND(gl.qty * pl.unit_price_minor * (1 + pl.tax_rate))), 0)::bigint,
       g.received_at
FROM grns g
JOIN grn_lines gl ON gl.grn_id = g.id
JOIN po_lines pl ON pl.id = gl.po_line_id
WHERE g.po_id=$1 AND g.status <> 'CANCELLED'
GROUP BY g.id, g.number, g.received_at
ORDER BY g.received_at DESC, g.id DESC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// TolerancePct returns the tenant's configured match tolerance, reporting
// false when none is set.
func (r *Repository) TolerancePct(ctx context.Context, tenantID int64) (float64, bool, error) {
	var pct float64
	err := r.pool.QueryRow(ctx,
		`SELECT match_tolerance_pct FROM tenant_settings WHERE tenant_id=$1`, tenantID).Scan(&pct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if pct <= 0 {
		return 0, false, nil
	}
	return pct, true, nil
}

func scanCandidates(rows pgx.Rows) ([]candidateDoc, error) {
	var docs []candidateDoc
	for rows.Next() {
		var doc candidateDoc
		var totalMinor int64
		if err := rows.Scan(&doc.ID, &doc.Number, &totalMinor, &doc.DocDate); err != nil {
			return nil, err
		}
		doc.Total = money.FromMinor(totalMinor)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type linkerTx struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, LinkerTxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &linkerTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (t *linkerTx) GetBill(ctx context.Context, tenantID, billID int64) (Bill, error) {
	var bill Bill
	err := t.tx.QueryRow(ctx,
		`SELECT id, tenant_id, supplier_id FROM bills WHERE id=$1 AND tenant_id=$2`,
		billID, tenantID).Scan(&bill.ID, &bill.TenantID, &bill.SupplierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	return bill, nil
}

func (t *linkerTx) GetPOLineForUpdate(ctx context.Context, poLineID int64) (POLineRef, error) {
	var ref POLineRef
	err := t.tx.QueryRow(ctx, `
SELECT pl.id, pl.po_id, po.tenant_id, po.supplier_id, po.status, pl.qty
FROM po_lines pl
JOIN purchase_orders po ON po.id = pl.po_id
WHERE pl.id=$1
FOR UPDATE OF pl`, poLineID).Scan(&ref.ID, &ref.POID, &ref.TenantID, &ref.SupplierID, &ref.POStatus, &ref.Qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return POLineRef{}, ErrLineNotFound
		}
		return POLineRef{}, err
	}
	return ref, nil
}

func (t *linkerTx) GetGRNLineForUpdate(ctx context.Context, grnLineID int64) (GRNLineRef, error) {
	var ref GRNLineRef
	err := t.tx.QueryRow(ctx, `
SELECT gl.id, gl.grn_id, g.po_id, g.tenant_id, po.supplier_id, g.status, gl.qty
FROM grn_lines gl
JOIN grns g ON g.id = gl.grn_id
JOIN purchase_orders po ON po.id = g.po_id
WHERE gl.id=$1
FOR UPDATE OF gl`, grnLineID).Scan(&ref.ID, &ref.GRNID, &ref.POID, &ref.TenantID, &ref.SupplierID, &ref.GRNStatus, &ref.Qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GRNLineRef{}, ErrLineNotFound
		}
		return GRNLineRef{}, err
	}
	return ref, nil
}

func (t *linkerTx) MatchedQtyForPOLine(ctx context.Context, poLineID int64) (float64, error) {
	var qty float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM match_links WHERE po_line_id=$1`, poLineID).Scan(&qty)
	return qty, err
}

func (t *linkerTx) MatchedQtyForGRNLine(ctx context.Context, grnLineID int64) (float64, error) {
	var qty float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM match_links WHERE grn_line_id=$1`, grnLineID).Scan(&qty)
	return qty, err
}

func (t *linkerTx) InsertLink(ctx context.Context, link MatchLink) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO match_links (tenant_id, bill_id, bill_line_id, po_line_id, grn_line_id, qty, created_by, created_at)
VALUES ($1,$2,$3,NULLIF($4,0),NULLIF($5,0),$6,$7,$8)
RETURNING id`,
		link.TenantID, link.BillID, link.BillLineID, link.POLineID, link.GRNLineID,
		link.Qty, link.CreatedBy, link.CreatedAt).Scan(&id)
	return id, err
}
