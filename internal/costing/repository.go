package costing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/money"
)

// Repository persists costing data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("costing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance reads the current balance without locking.
func (r *Repository) GetBalance(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, item_id, qty, avg_cost, updated_at
FROM inventory_balances WHERE tenant_id=$1 AND item_id=$2`, tenantID, itemID).
		Scan(&bal.TenantID, &bal.ItemID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// ListMovements returns stock card rows for an item.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, item_id, movement_type, movement_date, qty, unit_cost, amount_minor, ref_type, ref_id, created_at
FROM inventory_movements
WHERE tenant_id=$1 AND item_id=$2 AND movement_date BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY movement_date ASC, id ASC
LIMIT $5`, filter.TenantID, filter.ItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var amount int64
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ItemID, &m.Type, &m.Date, &m.Qty, &m.UnitCost, &amount, &m.RefType, &m.RefID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Amount = money.FromMinor(amount)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, item_id, qty, avg_cost, updated_at
FROM inventory_balances WHERE tenant_id=$1 AND item_id=$2 FOR UPDATE`, tenantID, itemID).
		Scan(&bal.TenantID, &bal.ItemID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{TenantID: tenantID, ItemID: itemID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (tenant_id, item_id, qty, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, item_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=NOW()`,
		balance.TenantID, balance.ItemID, balance.Qty, balance.AvgCost)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (tenant_id, item_id, movement_type, movement_date, qty, unit_cost, amount_minor, ref_type, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		movement.TenantID, movement.ItemID, string(movement.Type), movement.Date, movement.Qty, movement.UnitCost, movement.Amount.Minor(), movement.RefType, nullUUID(movement.RefID)).Scan(&id)
	return id, err
}

func nullUUID(value uuid.UUID) any {
	if value == uuid.Nil {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
