package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists counters in PostgreSQL.
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
		return errors.New("sequence repository not initialised")
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

// PeekCounter reads the next number without locking. Missing rows read as 1.
func (r *Repository) PeekCounter(ctx context.Context, key CounterKey) (int64, error) {
	var next int64
	err := r.pool.QueryRow(ctx, `SELECT next_number FROM doc_sequences WHERE tenant_id=$1 AND doc_type=$2 AND year=$3`,
		key.TenantID, string(key.DocType), key.Year).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1, nil
		}
		return 0, err
	}
	return next, nil
}

// AllocateInTx consumes the next number inside a caller-owned transaction,
// so the number and the document using it commit or roll back together.
func AllocateInTx(ctx context.Context, tx pgx.Tx, key CounterKey) (int64, error) {
	number, err := lockCounter(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	if err := storeCounter(ctx, tx, key, number+1); err != nil {
		return 0, err
	}
	return number, nil
}

func (r *txRepository) LockCounter(ctx context.Context, key CounterKey) (int64, error) {
	return lockCounter(ctx, r.tx, key)
}

func (r *txRepository) StoreCounter(ctx context.Context, key CounterKey, next int64) error {
	return storeCounter(ctx, r.tx, key, next)
}

// lockCounter lazily creates the counter row, then acquires an exclusive
// row lock on it. The lock is held until the transaction commits.
func lockCounter(ctx context.Context, tx pgx.Tx, key CounterKey) (int64, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO doc_sequences (tenant_id, doc_type, year, next_number)
VALUES ($1,$2,$3,1)
ON CONFLICT (tenant_id, doc_type, year) DO NOTHING`, key.TenantID, string(key.DocType), key.Year); err != nil {
		return 0, err
	}
	var next int64
	err := tx.QueryRow(ctx, `SELECT next_number FROM doc_sequences WHERE tenant_id=$1 AND doc_type=$2 AND year=$3 FOR UPDATE`,
		key.TenantID, string(key.DocType), key.Year).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func storeCounter(ctx context.Context, tx pgx.Tx, key CounterKey, next int64) error {
	_, err := tx.Exec(ctx, `UPDATE doc_sequences SET next_number=$4, updated_at=NOW()
WHERE tenant_id=$1 AND doc_type=$2 AND year=$3`, key.TenantID, string(key.DocType), key.Year, next)
	return err
}
