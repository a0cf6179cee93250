package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/money"
	"github.com/keppel-erp/keppel/internal/sequence"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetPO returns the purchase order and its lines.
func (r *Repository) GetPO(ctx context.Context, tenantID, poID int64) (PurchaseOrder, []POLine, error) {
	return fetchPO(ctx, r.pool, tenantID, poID, false)
}

// GetGRN returns the goods receipt and its lines.
func (r *Repository) GetGRN(ctx context.Context, tenantID, grnID int64) (GoodsReceipt, []GRNLine, error) {
	return fetchGRN(ctx, r.pool, tenantID, grnID, false)
}

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO purchase_orders (tenant_id, supplier_id, number, status, total_minor, order_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,now())
RETURNING id`,
		po.TenantID, po.SupplierID, po.Number, string(po.Status), po.Total.Minor(), po.OrderDate, po.Note).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO po_lines (po_id, description, qty, unit_price_minor, tax_rate)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`,
		line.POID, line.Description, line.Qty, line.UnitPrice.Minor(), line.TaxRate).Scan(&id)
	return id, err
}

func (t *txRepo) UpdatePOTotal(ctx context.Context, poID int64, total money.Amount) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET total_minor=$2 WHERE id=$1`, poID, total.Minor())
	return err
}

func (t *txRepo) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, poID, string(status))
	return err
}

func (t *txRepo) GetPOForUpdate(ctx context.Context, tenantID, poID int64) (PurchaseOrder, []POLine, error) {
	return fetchPO(ctx, t.tx, tenantID, poID, true)
}

// ReceivedQuantities sums received qty per PO line across non-cancelled GRNs.
// Callers must hold the PO row lock so concurrent receipts serialize.
func (t *txRepo) ReceivedQuantities(ctx context.Context, poID int64) (map[int64]float64, error) {
	rows, err := t.tx.Query(ctx, `
SELECT gl.po_line_id, COALESCE(SUM(gl.qty), 0)
FROM grn_lines gl
JOIN grns g ON g.id = gl.grn_id
WHERE g.po_id = $1 AND g.status <> $2
GROUP BY gl.po_line_id`, poID, string(GRNStatusCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	received := make(map[int64]float64)
	for rows.Next() {
		var lineID int64
		var qty float64
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		received[lineID] = qty
	}
	return received, rows.Err()
}

func (t *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO grns (tenant_id, po_id, number, status, received_at, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
RETURNING id`,
		grn.TenantID, grn.POID, grn.Number, string(grn.Status), grn.ReceivedAt, grn.Note).Scan(&id)
	return id, err
}

func (t *txRepo) InsertGRNLine(ctx context.Context, line GRNLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO grn_lines (grn_id, po_line_id, qty)
VALUES ($1,$2,$3)
RETURNING id`,
		line.GRNID, line.POLineID, line.Qty).Scan(&id)
	return id, err
}

func (t *txRepo) GetGRNForUpdate(ctx context.Context, tenantID, grnID int64) (GoodsReceipt, []GRNLine, error) {
	return fetchGRN(ctx, t.tx, tenantID, grnID, true)
}

func (t *txRepo) UpdateGRNStatus(ctx context.Context, grnID int64, status GRNStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE grns SET status=$2 WHERE id=$1`, grnID, string(status))
	return err
}

func (t *txRepo) AllocateNumber(ctx context.Context, key sequence.CounterKey) (sequence.Allocation, error) {
	number, err := sequence.AllocateInTx(ctx, t.tx, key)
	if err != nil {
		return sequence.Allocation{}, err
	}
	return sequence.Allocation{
		Code:   sequence.Format(key.DocType, key.Year, number),
		Number: number,
	}, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func fetchPO(ctx context.Context, q querier, tenantID, poID int64, forUpdate bool) (PurchaseOrder, []POLine, error) {
	query := `
SELECT id, tenant_id, supplier_id, number, status, total_minor, order_date, note, created_at
FROM purchase_orders
WHERE id=$1 AND tenant_id=$2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var po PurchaseOrder
	var status string
	var totalMinor int64
	err := q.QueryRow(ctx, query, poID, tenantID).Scan(
		&po.ID, &po.TenantID, &po.SupplierID, &po.Number, &status, &totalMinor, &po.OrderDate, &po.Note, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrPONotFound
		}
		return PurchaseOrder{}, nil, err
	}
	po.Status = POStatus(status)
	po.Total = money.FromMinor(totalMinor)

	rows, err := q.Query(ctx, `
SELECT id, po_id, description, qty, unit_price_minor, tax_rate
FROM po_lines
WHERE po_id=$1
ORDER BY id`, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		var priceMinor int64
		if err := rows.Scan(&line.ID, &line.POID, &line.Description, &line.Qty, &priceMinor, &line.TaxRate); err != nil {
			return PurchaseOrder{}, nil, err
		}
		line.UnitPrice = money.FromMinor(priceMinor)
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

func fetchGRN(ctx context.Context, q querier, tenantID, grnID int64, forUpdate bool) (GoodsReceipt, []GRNLine, error) {
	query := `
SELECT id, tenant_id, po_id, number, status, received_at, note, created_at
FROM grns
WHERE id=$1 AND tenant_id=$2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var grn GoodsReceipt
	var status string
	err := q.QueryRow(ctx, query, grnID, tenantID).Scan(
		&grn.ID, &grn.TenantID, &grn.POID, &grn.Number, &status, &grn.ReceivedAt, &grn.Note, &grn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, ErrGRNNotFound
		}
		return GoodsReceipt{}, nil, err
	}
	grn.Status = GRNStatus(status)

	rows, err := q.Query(ctx, `
SELECT id, grn_id, po_line_id, qty
FROM grn_lines
WHERE grn_id=$1
ORDER BY id`, grnID)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var line GRNLine
		if err := rows.Scan(&line.ID, &line.GRNID, &line.POLineID, &line.Qty); err != nil {
			return GoodsReceipt{}, nil, err
		}
		lines = append(lines, line)
	}
	return grn, lines, rows.Err()
}
