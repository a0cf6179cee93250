package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MappingRepository resolves account roles from the tenant's
// account_mappings configuration. It implements AccountResolver.
type MappingRepository struct {
	pool *pgxpool.Pool
}

// NewMappingRepository constructs MappingRepository.
func NewMappingRepository(pool *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{pool: pool}
}

// Resolve looks up the ledger account configured for a role.
func (r *MappingRepository) Resolve(ctx context.Context, tenantID int64, role AccountRole) (int64, error) {
	if tenantID == 0 || role == "" {
		return 0, errors.New("ledger: tenant and role required")
	}
	var accountID int64
	err := r.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE tenant_id=$1 AND role=$2`,
		tenantID, string(role)).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &MissingMappingError{Role: role}
		}
		return 0, err
	}
	return accountID, nil
}
