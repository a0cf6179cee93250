package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memoryRepo serializes WithTx with a mutex the way the row lock does.
type memoryRepo struct {
	mu       sync.Mutex
	counters map[CounterKey]int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{counters: make(map[CounterKey]int64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) PeekCounter(ctx context.Context, key CounterKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next, ok := r.counters[key]; ok {
		return next, nil
	}
	return 1, nil
}

func (tx *memoryTx) LockCounter(ctx context.Context, key CounterKey) (int64, error) {
	if next, ok := tx.repo.counters[key]; ok {
		return next, nil
	}
	tx.repo.counters[key] = 1
	return 1, nil
}

func (tx *memoryTx) StoreCounter(ctx context.Context, key CounterKey, next int64) error {
	tx.repo.counters[key] = next
	return nil
}

func fixedDate(t *testing.T, value string) time.Time {
	t.Helper()
	date, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return date
}

func TestAllocateFormatsCode(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, 1, DocTypeInvoice, fixedDate(t, "2025-03-14"))
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Number)
	require.Equal(t, "INV2025-0001", first.Code)

	second, err := alloc.Allocate(ctx, 1, DocTypeInvoice, fixedDate(t, "2025-06-01"))
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Number)
	require.Equal(t, "INV2025-0002", second.Code)

	quote, err := alloc.Allocate(ctx, 1, DocTypeQuote, fixedDate(t, "2025-06-01"))
	require.NoError(t, err)
	require.Equal(t, "Q2025-0001", quote.Code)
}

func TestAllocateYearScoped(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, 1, DocTypeCreditNote, fixedDate(t, "2024-12-31"))
	require.NoError(t, err)

	next, err := alloc.Allocate(ctx, 1, DocTypeCreditNote, fixedDate(t, "2025-01-01"))
	require.NoError(t, err)
	require.Equal(t, int64(1), next.Number)
	require.Equal(t, "CN2025-0001", next.Code)
}

func TestAllocateTenantIsolation(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())
	ctx := context.Background()
	date := fixedDate(t, "2025-02-01")

	a, err := alloc.Allocate(ctx, 1, DocTypeInvoice, date)
	require.NoError(t, err)
	b, err := alloc.Allocate(ctx, 2, DocTypeInvoice, date)
	require.NoError(t, err)
	require.Equal(t, a.Number, b.Number)
}

func TestAllocateDefaultsToToday(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())
	alloc.WithNow(func() time.Time { return fixedDate(t, "2031-07-04") })

	got, err := alloc.Allocate(context.Background(), 1, DocTypeBill, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "BILL2031-0001", got.Code)
}

func TestAllocateRejectsInvalidType(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())

	_, err := alloc.Allocate(context.Background(), 1, DocType("TIMESHEET"), time.Time{})
	require.ErrorIs(t, err, ErrInvalidDocumentType)

	_, err = alloc.Allocate(context.Background(), 0, DocTypeInvoice, time.Time{})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestFormatWidensPastFourDigits(t *testing.T) {
	require.Equal(t, "INV2025-0042", Format(DocTypeInvoice, 2025, 42))
	require.Equal(t, "INV2025-10233", Format(DocTypeInvoice, 2025, 10233))
}

func TestConcurrentAllocationsDistinctAndGapless(t *testing.T) {
	for _, n := range []int{1, 2, 50} {
		repo := newMemoryRepo()
		alloc := NewAllocator(repo)
		date := fixedDate(t, "2025-05-05")

		numbers := make([]int64, n)
		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < n; i++ {
			g.Go(func() error {
				got, err := alloc.Allocate(ctx, 7, DocTypeInvoice, date)
				if err != nil {
					return err
				}
				numbers[i] = got.Number
				return nil
			})
		}
		require.NoError(t, g.Wait())

		seen := make(map[int64]bool, n)
		for _, num := range numbers {
			require.False(t, seen[num], "duplicate number %d", num)
			require.GreaterOrEqual(t, num, int64(1))
			require.LessOrEqual(t, num, int64(n))
			seen[num] = true
		}
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	alloc := NewAllocator(newMemoryRepo())
	ctx := context.Background()
	date := fixedDate(t, "2025-09-09")

	peeked, err := alloc.Peek(ctx, 1, DocTypeInvoice, date)
	require.NoError(t, err)
	require.Equal(t, int64(1), peeked.Number)

	got, err := alloc.Allocate(ctx, 1, DocTypeInvoice, date)
	require.NoError(t, err)
	require.Equal(t, peeked.Number, got.Number)
}
