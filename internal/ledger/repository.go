package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/money"
)

// RepositoryPort describes repository operations used by Poster.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error)
	GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error)
}

// TxRepository exposes operations available within a posting transaction.
type TxRepository interface {
	GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []Line) error
	LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID, entryID int64) error
}

// Repository persists journal entries in PostgreSQL.
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

// GetEntry loads an entry with its lines.
func (r *Repository) GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	var entry Entry
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, entry_date, reference, description, source_type, source_id, status, posted_at, created_at
FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID).
		Scan(&entry.ID, &entry.TenantID, &entry.Date, &entry.Reference, &entry.Description, &entry.SourceType, &entry.SourceID, &entry.Status, &entry.PostedAt, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, je_id, account_id, description, debit_minor, credit_minor, party_ref
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		var debit, credit int64
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Description, &debit, &credit, &line.PartyRef); err != nil {
			return Entry{}, err
		}
		line.Debit = money.FromMinor(debit)
		line.Credit = money.FromMinor(credit)
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

// GetSourceLink resolves the journal entry linked to a source document.
func (r *Repository) GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error) {
	return getSourceLink(ctx, r.pool, tenantID, sourceType, sourceID)
}

func (r *txRepository) GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error) {
	return getSourceLink(ctx, r.tx, tenantID, sourceType, sourceID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSourceLink(ctx context.Context, q queryRower, tenantID int64, sourceType string, sourceID int64) (int64, error) {
	var entryID int64
	err := q.QueryRow(ctx, `SELECT je_id FROM source_links WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3`,
		tenantID, sourceType, sourceID).Scan(&entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrLinkNotFound
		}
		return 0, err
	}
	return entryID, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, entry_date, reference, description, source_type, source_id, status, posted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		entry.TenantID, entry.Date, entry.Reference, entry.Description, entry.SourceType, entry.SourceID, string(entry.Status), entry.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, description, debit_minor, credit_minor, party_ref)
VALUES ($1,$2,$3,$4,$5,$6)`, entryID, line.AccountID, line.Description, line.Debit.Minor(), line.Credit.Minor(), line.PartyRef); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, source_type, source_id, je_id) VALUES ($1,$2,$3,$4)`,
		tenantID, sourceType, sourceID, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}
