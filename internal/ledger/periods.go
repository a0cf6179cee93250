package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PeriodRepository guards postings against closed accounting periods.
// Periods without a row are treated as open.
type PeriodRepository struct {
	pool *pgxpool.Pool
}

// NewPeriodRepository constructs a PeriodRepository.
func NewPeriodRepository(pool *pgxpool.Pool) *PeriodRepository {
	return &PeriodRepository{pool: pool}
}

// EnsureOpen fails with ErrPeriodLocked when the month of date has been
// closed for the tenant.
func (r *PeriodRepository) EnsureOpen(ctx context.Context, tenantID int64, date time.Time) error {
	period := date.Format("2006-01")
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM accounting_periods WHERE tenant_id=$1 AND period=$2`,
		tenantID, period).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if status != "OPEN" {
		return fmt.Errorf("%w: %s", ErrPeriodLocked, period)
	}
	return nil
}
