package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keppel-erp/keppel/internal/money"
)

type linkKey struct {
	tenantID   int64
	sourceType string
	sourceID   int64
}

type memoryRepo struct {
	entries map[int64]Entry
	links   map[linkKey]int64
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[int64]Entry), links: make(map[linkKey]int64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	entry, ok := r.entries[entryID]
	if !ok || entry.TenantID != tenantID {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (r *memoryRepo) GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error) {
	if id, ok := r.links[linkKey{tenantID, sourceType, sourceID}]; ok {
		return id, nil
	}
	return 0, ErrLinkNotFound
}

func (tx *memoryTx) GetSourceLink(ctx context.Context, tenantID int64, sourceType string, sourceID int64) (int64, error) {
	return tx.repo.GetSourceLink(ctx, tenantID, sourceType, sourceID)
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	entry.Lines = nil
	tx.repo.entries[entry.ID] = entry
	return entry.ID, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []Line) error {
	entry := tx.repo.entries[entryID]
	for _, line := range lines {
		line.EntryID = entryID
		entry.Lines = append(entry.Lines, line)
	}
	tx.repo.entries[entryID] = entry
	return nil
}

func (tx *memoryTx) LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID, entryID int64) error {
	key := linkKey{tenantID, sourceType, sourceID}
	if _, ok := tx.repo.links[key]; ok {
		return ErrSourceConflict
	}
	tx.repo.links[key] = entryID
	return nil
}

type stubResolver struct {
	accounts map[AccountRole]int64
}

func (s *stubResolver) Resolve(ctx context.Context, tenantID int64, role AccountRole) (int64, error) {
	if id, ok := s.accounts[role]; ok {
		return id, nil
	}
	return 0, &MissingMappingError{Role: role}
}

type stubGuard struct {
	lockedBefore time.Time
}

func (s *stubGuard) EnsureOpen(ctx context.Context, tenantID int64, date time.Time) error {
	if date.Before(s.lockedBefore) {
		return ErrPeriodLocked
	}
	return nil
}

type stubDocs struct {
	invoices  map[int64]InvoiceDoc
	bills     map[int64]BillDoc
	payments  map[int64]PaymentDoc
	movements map[int64]MovementDoc
}

func (s *stubDocs) Invoice(ctx context.Context, tenantID, id int64) (InvoiceDoc, error) {
	doc, ok := s.invoices[id]
	if !ok {
		return InvoiceDoc{}, fmt.Errorf("invoice %d not found", id)
	}
	return doc, nil
}

func (s *stubDocs) Bill(ctx context.Context, tenantID, id int64) (BillDoc, error) {
	doc, ok := s.bills[id]
	if !ok {
		return BillDoc{}, fmt.Errorf("bill %d not found", id)
	}
	return doc, nil
}

func (s *stubDocs) Payment(ctx context.Context, tenantID, id int64) (PaymentDoc, error) {
	doc, ok := s.payments[id]
	if !ok {
		return PaymentDoc{}, fmt.Errorf("payment %d not found", id)
	}
	return doc, nil
}

func (s *stubDocs) Movement(ctx context.Context, tenantID, id int64) (MovementDoc, error) {
	doc, ok := s.movements[id]
	if !ok {
		return MovementDoc{}, fmt.Errorf("movement %d not found", id)
	}
	return doc, nil
}

func allAccounts() *stubResolver {
	return &stubResolver{accounts: map[AccountRole]int64{
		RoleAccountsReceivable: 1100,
		RoleAccountsPayable:    2100,
		RoleSales:              4000,
		RoleExpense:            5000,
		RoleVATOutput:          2200,
		RoleVATInput:           1200,
		RoleBank:               1000,
		RoleInventory:          1300,
		RoleCOGS:               5100,
	}}
}

func newTestPoster(repo *memoryRepo, docs *stubDocs, resolver AccountResolver) *Poster {
	return NewPoster(repo, docs, resolver, &stubGuard{}, nil, nil)
}

func mustSum(t *testing.T, lines []Line) (money.Amount, money.Amount) {
	t.Helper()
	var debit, credit money.Amount
	for _, line := range lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}

func TestPostInvoiceBalanced(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0001", Date: time.Now(), CustomerRef: "CUST-7",
			Subtotal: money.FromMinor(100000), Tax: money.FromMinor(15000), Total: money.FromMinor(115000)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())

	result, err := poster.PostInvoice(context.Background(), 1, 10)
	require.NoError(t, err)
	require.False(t, result.AlreadyPosted)

	entry := repo.entries[result.EntryID]
	require.Len(t, entry.Lines, 3)
	debit, credit := mustSum(t, entry.Lines)
	require.Equal(t, debit, credit)
	require.Equal(t, int64(115000), entry.Lines[0].Debit.Minor())
	require.Equal(t, int64(1100), entry.Lines[0].AccountID)
	require.Equal(t, "CUST-7", entry.Lines[0].PartyRef)
}

func TestPostInvoiceZeroTaxOmitsVATLine(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0002", Date: time.Now(),
			Subtotal: money.FromMinor(50000), Total: money.FromMinor(50000)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())

	result, err := poster.PostInvoice(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, repo.entries[result.EntryID].Lines, 2)
}

func TestPostInvoiceIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0003", Date: time.Now(),
			Subtotal: money.FromMinor(50000), Total: money.FromMinor(50000)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())
	ctx := context.Background()

	first, err := poster.PostInvoice(ctx, 1, 10)
	require.NoError(t, err)
	second, err := poster.PostInvoice(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, second.AlreadyPosted)
	require.Equal(t, first.EntryID, second.EntryID)
	require.Len(t, repo.entries, 1)
}

func TestPostInvoicePeriodLocked(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0004", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Subtotal: money.FromMinor(50000), Total: money.FromMinor(50000)},
	}}
	poster := NewPoster(repo, docs, allAccounts(), &stubGuard{lockedBefore: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, nil, nil)

	_, err := poster.PostInvoice(context.Background(), 1, 10)
	require.ErrorIs(t, err, ErrPeriodLocked)
	require.Empty(t, repo.entries)
	require.Empty(t, repo.links)
}

func TestPostInvoiceMissingMapping(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0005", Date: time.Now(),
			Subtotal: money.FromMinor(40000), Tax: money.FromMinor(6000), Total: money.FromMinor(46000)},
	}}
	resolver := allAccounts()
	delete(resolver.accounts, RoleVATOutput)
	poster := newTestPoster(repo, docs, resolver)

	_, err := poster.PostInvoice(context.Background(), 1, 10)
	var missing *MissingMappingError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, RoleVATOutput, missing.Role)
	require.Empty(t, repo.entries)
}

func TestPostBillConstruction(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{bills: map[int64]BillDoc{
		20: {ID: 20, Number: "BILL2025-0001", Date: time.Now(), SupplierRef: "SUP-3",
			Lines: []BillDocLine{
				{Description: "Freight", Amount: money.FromMinor(30000)},
				{Description: "Packaging", Amount: money.FromMinor(20000)},
			},
			Tax: money.FromMinor(7500), Total: money.FromMinor(57500)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())

	result, err := poster.PostBill(context.Background(), 1, 20)
	require.NoError(t, err)

	entry := repo.entries[result.EntryID]
	require.Len(t, entry.Lines, 4)
	debit, credit := mustSum(t, entry.Lines)
	require.Equal(t, debit, credit)
	last := entry.Lines[len(entry.Lines)-1]
	require.Equal(t, int64(57500), last.Credit.Minor())
	require.Equal(t, int64(2100), last.AccountID)
	require.Equal(t, "SUP-3", last.PartyRef)
}

func TestPostPaymentDirections(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{payments: map[int64]PaymentDoc{
		30: {ID: 30, Number: "PAY2025-0001", Date: time.Now(), Direction: PaymentReceived, PartyRef: "CUST-7", Amount: money.FromMinor(115000)},
		31: {ID: 31, Number: "PAY2025-0002", Date: time.Now(), Direction: PaymentMade, PartyRef: "SUP-3", Amount: money.FromMinor(57500)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())
	ctx := context.Background()

	received, err := poster.PostPayment(ctx, 1, 30)
	require.NoError(t, err)
	entry := repo.entries[received.EntryID]
	require.Equal(t, int64(1000), entry.Lines[0].AccountID) // bank debited
	require.Equal(t, int64(1100), entry.Lines[1].AccountID) // AR credited

	made, err := poster.PostPayment(ctx, 1, 31)
	require.NoError(t, err)
	entry = repo.entries[made.EntryID]
	require.Equal(t, int64(2100), entry.Lines[0].AccountID) // AP debited
	require.Equal(t, int64(1000), entry.Lines[1].AccountID) // bank credited
}

func TestPostInventoryMovementBySign(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{movements: map[int64]MovementDoc{
		40: {ID: 40, Date: time.Now(), Ref: "GRN2025-0001", Qty: 10, Amount: money.FromMinor(100000)},
		41: {ID: 41, Date: time.Now(), Ref: "ISS2025-0001", Qty: -4, Amount: money.FromMinor(40000)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())
	ctx := context.Background()

	receipt, err := poster.PostInventoryMovement(ctx, 1, 40)
	require.NoError(t, err)
	entry := repo.entries[receipt.EntryID]
	require.Equal(t, int64(1300), entry.Lines[0].AccountID) // inventory debited

	issue, err := poster.PostInventoryMovement(ctx, 1, 41)
	require.NoError(t, err)
	entry = repo.entries[issue.EntryID]
	require.Equal(t, int64(5100), entry.Lines[0].AccountID) // COGS debited
	debit, credit := mustSum(t, entry.Lines)
	require.Equal(t, debit, credit)
}

func TestReverseSwapsSides(t *testing.T) {
	repo := newMemoryRepo()
	docs := &stubDocs{invoices: map[int64]InvoiceDoc{
		10: {ID: 10, Number: "INV2025-0006", Date: time.Now(),
			Subtotal: money.FromMinor(80000), Tax: money.FromMinor(12000), Total: money.FromMinor(92000)},
	}}
	poster := newTestPoster(repo, docs, allAccounts())
	ctx := context.Background()

	posted, err := poster.PostInvoice(ctx, 1, 10)
	require.NoError(t, err)

	reversed, err := poster.Reverse(ctx, 1, posted.EntryID, time.Time{}, "")
	require.NoError(t, err)
	require.NotEqual(t, posted.EntryID, reversed.EntryID)

	original := repo.entries[posted.EntryID]
	reversal := repo.entries[reversed.EntryID]
	require.Len(t, reversal.Lines, len(original.Lines))
	for i := range original.Lines {
		require.Equal(t, original.Lines[i].Debit, reversal.Lines[i].Credit)
		require.Equal(t, original.Lines[i].Credit, reversal.Lines[i].Debit)
	}
	require.NoError(t, reversal.Validate())

	// reversing twice is a no-op via the same source link guard
	again, err := poster.Reverse(ctx, 1, posted.EntryID, time.Time{}, "")
	require.NoError(t, err)
	require.True(t, again.AlreadyPosted)
	require.Equal(t, reversed.EntryID, again.EntryID)
}
