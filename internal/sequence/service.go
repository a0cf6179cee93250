package sequence

import (
	"context"
	"fmt"
	"time"
)

// RepositoryPort describes repository operations used by Allocator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	PeekCounter(ctx context.Context, key CounterKey) (int64, error)
}

// TxRepository exposes counter operations inside a transaction. LockCounter
// must hold an exclusive row lock until the transaction ends so that two
// allocations for the same key are strictly serialized.
type TxRepository interface {
	LockCounter(ctx context.Context, key CounterKey) (int64, error)
	StoreCounter(ctx context.Context, key CounterKey, next int64) error
}

// Allocator issues gap-free sequential document numbers.
type Allocator struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewAllocator constructs an Allocator.
func NewAllocator(repo RepositoryPort) *Allocator {
	return &Allocator{repo: repo, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (a *Allocator) WithNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Allocate consumes the next number for (tenant, docType, year of asOf).
// The increment commits with the surrounding transaction, so a failed caller
// leaves no gap behind. Any error aborts the whole allocation.
func (a *Allocator) Allocate(ctx context.Context, tenantID int64, docType DocType, asOf time.Time) (Allocation, error) {
	key, err := a.key(tenantID, docType, asOf)
	if err != nil {
		return Allocation{}, err
	}
	var alloc Allocation
	err = a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.LockCounter(ctx, key)
		if err != nil {
			return err
		}
		if err := tx.StoreCounter(ctx, key, number+1); err != nil {
			return err
		}
		alloc = Allocation{Code: Format(docType, key.Year, number), Number: number}
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// Peek reports the number the next allocation would return, without
// consuming it. Display only; concurrent allocators may take it first.
func (a *Allocator) Peek(ctx context.Context, tenantID int64, docType DocType, asOf time.Time) (Allocation, error) {
	key, err := a.key(tenantID, docType, asOf)
	if err != nil {
		return Allocation{}, err
	}
	number, err := a.repo.PeekCounter(ctx, key)
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{Code: Format(docType, key.Year, number), Number: number}, nil
}

func (a *Allocator) key(tenantID int64, docType DocType, asOf time.Time) (CounterKey, error) {
	if tenantID == 0 {
		return CounterKey{}, ErrTenantRequired
	}
	if _, ok := prefixes[docType]; !ok {
		return CounterKey{}, fmt.Errorf("%w: %s", ErrInvalidDocumentType, docType)
	}
	if asOf.IsZero() {
		asOf = a.now()
	}
	return CounterKey{TenantID: tenantID, DocType: docType, Year: asOf.Year()}, nil
}

// Format renders a document code such as INV2025-0001. Numbers past 9999
// widen instead of truncating.
func Format(docType DocType, year int, number int64) string {
	return fmt.Sprintf("%s%d-%04d", prefixes[docType], year, number)
}
