package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keppel-erp/keppel/internal/audit"
	"github.com/keppel-erp/keppel/internal/money"
)

// Source document type tags recorded on journal links.
const (
	SourceInvoice  = "INVOICE"
	SourceBill     = "BILL"
	SourcePayment  = "PAYMENT"
	SourceMovement = "INVENTORY_MOVEMENT"
	SourceReversal = "REVERSAL"
)

// AccountResolver maps a logical account role to a ledger account for a
// tenant. External collaborator, treated as a pure lookup.
type AccountResolver interface {
	Resolve(ctx context.Context, tenantID int64, role AccountRole) (int64, error)
}

// PeriodGuard reports whether a date falls inside a closed accounting
// period. External collaborator.
type PeriodGuard interface {
	EnsureOpen(ctx context.Context, tenantID int64, date time.Time) error
}

// DocumentStore supplies the monetary breakdown of source documents owned
// by the surrounding system.
type DocumentStore interface {
	Invoice(ctx context.Context, tenantID, id int64) (InvoiceDoc, error)
	Bill(ctx context.Context, tenantID, id int64) (BillDoc, error)
	Payment(ctx context.Context, tenantID, id int64) (PaymentDoc, error)
	Movement(ctx context.Context, tenantID, id int64) (MovementDoc, error)
}

// AuditPort records posting activity.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// Poster builds and commits balanced journal entries from source documents.
type Poster struct {
	repo     RepositoryPort
	docs     DocumentStore
	accounts AccountResolver
	periods  PeriodGuard
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoster constructs a Poster.
func NewPoster(repo RepositoryPort, docs DocumentStore, accounts AccountResolver, periods PeriodGuard, auditor AuditPort, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{repo: repo, docs: docs, accounts: accounts, periods: periods, audit: auditor, logger: logger, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// PostInvoice posts a sales invoice: debit A/R for the total, credit Sales
// for the subtotal, credit VAT output for the tax when present.
func (p *Poster) PostInvoice(ctx context.Context, tenantID, invoiceID int64) (PostResult, error) {
	doc, err := p.docs.Invoice(ctx, tenantID, invoiceID)
	if err != nil {
		return PostResult{}, fmt.Errorf("ledger: load invoice %d: %w", invoiceID, err)
	}
	if err := validate.Struct(doc); err != nil {
		return PostResult{}, fmt.Errorf("ledger: invoice %d: %w", invoiceID, err)
	}
	if err := p.periods.EnsureOpen(ctx, tenantID, doc.Date); err != nil {
		return PostResult{}, err
	}
	ar, err := p.resolve(ctx, tenantID, RoleAccountsReceivable)
	if err != nil {
		return PostResult{}, err
	}
	sales, err := p.resolve(ctx, tenantID, RoleSales)
	if err != nil {
		return PostResult{}, err
	}
	lines := []Line{
		{AccountID: ar, Description: doc.Number, Debit: doc.Total, PartyRef: doc.CustomerRef},
		{AccountID: sales, Description: doc.Number, Credit: doc.Subtotal},
	}
	if doc.Tax > 0 {
		vat, err := p.resolve(ctx, tenantID, RoleVATOutput)
		if err != nil {
			return PostResult{}, err
		}
		lines = append(lines, Line{AccountID: vat, Description: doc.Number, Credit: doc.Tax})
	}
	entry := Entry{
		TenantID:    tenantID,
		Date:        doc.Date,
		Reference:   doc.Number,
		Description: fmt.Sprintf("Invoice %s", doc.Number),
		SourceType:  SourceInvoice,
		SourceID:    doc.ID,
		Lines:       lines,
	}
	return p.commit(ctx, entry)
}

// PostBill posts a supplier bill: debit Expense per line, debit VAT input
// for the tax when present, credit A/P for the total.
func (p *Poster) PostBill(ctx context.Context, tenantID, billID int64) (PostResult, error) {
	doc, err := p.docs.Bill(ctx, tenantID, billID)
	if err != nil {
		return PostResult{}, fmt.Errorf("ledger: load bill %d: %w", billID, err)
	}
	if err := validate.Struct(doc); err != nil {
		return PostResult{}, fmt.Errorf("ledger: bill %d: %w", billID, err)
	}
	if err := p.periods.EnsureOpen(ctx, tenantID, doc.Date); err != nil {
		return PostResult{}, err
	}
	expense, err := p.resolve(ctx, tenantID, RoleExpense)
	if err != nil {
		return PostResult{}, err
	}
	ap, err := p.resolve(ctx, tenantID, RoleAccountsPayable)
	if err != nil {
		return PostResult{}, err
	}
	lines := make([]Line, 0, len(doc.Lines)+2)
	for _, bl := range doc.Lines {
		lines = append(lines, Line{AccountID: expense, Description: bl.Description, Debit: bl.Amount})
	}
	if doc.Tax > 0 {
		vat, err := p.resolve(ctx, tenantID, RoleVATInput)
		if err != nil {
			return PostResult{}, err
		}
		lines = append(lines, Line{AccountID: vat, Description: doc.Number, Debit: doc.Tax})
	}
	lines = append(lines, Line{AccountID: ap, Description: doc.Number, Credit: doc.Total, PartyRef: doc.SupplierRef})
	entry := Entry{
		TenantID:    tenantID,
		Date:        doc.Date,
		Reference:   doc.Number,
		Description: fmt.Sprintf("Bill %s", doc.Number),
		SourceType:  SourceBill,
		SourceID:    doc.ID,
		Lines:       lines,
	}
	return p.commit(ctx, entry)
}

// PostPayment posts a settled payment: bank against A/R for customer
// receipts, A/P against bank for supplier payments.
func (p *Poster) PostPayment(ctx context.Context, tenantID, paymentID int64) (PostResult, error) {
	doc, err := p.docs.Payment(ctx, tenantID, paymentID)
	if err != nil {
		return PostResult{}, fmt.Errorf("ledger: load payment %d: %w", paymentID, err)
	}
	if err := validate.Struct(doc); err != nil {
		return PostResult{}, fmt.Errorf("ledger: payment %d: %w", paymentID, err)
	}
	if err := p.periods.EnsureOpen(ctx, tenantID, doc.Date); err != nil {
		return PostResult{}, err
	}
	bank, err := p.resolve(ctx, tenantID, RoleBank)
	if err != nil {
		return PostResult{}, err
	}
	var lines []Line
	switch doc.Direction {
	case PaymentReceived:
		ar, err := p.resolve(ctx, tenantID, RoleAccountsReceivable)
		if err != nil {
			return PostResult{}, err
		}
		lines = []Line{
			{AccountID: bank, Description: doc.Number, Debit: doc.Amount},
			{AccountID: ar, Description: doc.Number, Credit: doc.Amount, PartyRef: doc.PartyRef},
		}
	case PaymentMade:
		ap, err := p.resolve(ctx, tenantID, RoleAccountsPayable)
		if err != nil {
			return PostResult{}, err
		}
		lines = []Line{
			{AccountID: ap, Description: doc.Number, Debit: doc.Amount, PartyRef: doc.PartyRef},
			{AccountID: bank, Description: doc.Number, Credit: doc.Amount},
		}
	default:
		return PostResult{}, fmt.Errorf("ledger: payment %d has unknown direction %q", paymentID, doc.Direction)
	}
	entry := Entry{
		TenantID:    tenantID,
		Date:        doc.Date,
		Reference:   doc.Number,
		Description: fmt.Sprintf("Payment %s", doc.Number),
		SourceType:  SourcePayment,
		SourceID:    doc.ID,
		Lines:       lines,
	}
	return p.commit(ctx, entry)
}

// PostInventoryMovement posts a costed stock movement. Receipts debit
// Inventory against COGS; issues debit COGS against Inventory.
func (p *Poster) PostInventoryMovement(ctx context.Context, tenantID, movementID int64) (PostResult, error) {
	doc, err := p.docs.Movement(ctx, tenantID, movementID)
	if err != nil {
		return PostResult{}, fmt.Errorf("ledger: load movement %d: %w", movementID, err)
	}
	if err := validate.Struct(doc); err != nil {
		return PostResult{}, fmt.Errorf("ledger: movement %d: %w", movementID, err)
	}
	if err := p.periods.EnsureOpen(ctx, tenantID, doc.Date); err != nil {
		return PostResult{}, err
	}
	inventory, err := p.resolve(ctx, tenantID, RoleInventory)
	if err != nil {
		return PostResult{}, err
	}
	cogs, err := p.resolve(ctx, tenantID, RoleCOGS)
	if err != nil {
		return PostResult{}, err
	}
	var lines []Line
	if doc.Qty > 0 {
		lines = []Line{
			{AccountID: inventory, Description: doc.Ref, Debit: doc.Amount},
			{AccountID: cogs, Description: doc.Ref, Credit: doc.Amount},
		}
	} else {
		lines = []Line{
			{AccountID: cogs, Description: doc.Ref, Debit: doc.Amount},
			{AccountID: inventory, Description: doc.Ref, Credit: doc.Amount},
		}
	}
	entry := Entry{
		TenantID:    tenantID,
		Date:        doc.Date,
		Reference:   doc.Ref,
		Description: fmt.Sprintf("Stock movement %s", doc.Ref),
		SourceType:  SourceMovement,
		SourceID:    doc.ID,
		Lines:       lines,
	}
	return p.commit(ctx, entry)
}

// Reverse posts a new entry with swapped debit/credit lines referencing the
// original. The original entry is never edited.
func (p *Poster) Reverse(ctx context.Context, tenantID, entryID int64, date time.Time, memo string) (PostResult, error) {
	original, err := p.repo.GetEntry(ctx, tenantID, entryID)
	if err != nil {
		return PostResult{}, err
	}
	if date.IsZero() {
		date = original.Date
	}
	if err := p.periods.EnsureOpen(ctx, tenantID, date); err != nil {
		return PostResult{}, err
	}
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s", original.Reference)
	}
	lines := make([]Line, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, Line{
			AccountID:   line.AccountID,
			Description: line.Description,
			Debit:       line.Credit,
			Credit:      line.Debit,
			PartyRef:    line.PartyRef,
		})
	}
	entry := Entry{
		TenantID:    tenantID,
		Date:        date,
		Reference:   original.Reference,
		Description: memo,
		SourceType:  SourceReversal,
		SourceID:    original.ID,
		Lines:       lines,
	}
	return p.commit(ctx, entry)
}

func (p *Poster) resolve(ctx context.Context, tenantID int64, role AccountRole) (int64, error) {
	accountID, err := p.accounts.Resolve(ctx, tenantID, role)
	if err != nil {
		return 0, err
	}
	return accountID, nil
}

// commit is the single write point: entry, lines and source back-link go in
// one transaction. A prior link for the same source makes the call a no-op
// returning the existing entry id.
func (p *Poster) commit(ctx context.Context, entry Entry) (PostResult, error) {
	if err := entry.Validate(); err != nil {
		return PostResult{}, err
	}
	entry.Status = EntryStatusPosted
	entry.PostedAt = p.now()
	var result PostResult
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetSourceLink(ctx, entry.TenantID, entry.SourceType, entry.SourceID)
		if err == nil {
			result = PostResult{EntryID: existing, AlreadyPosted: true}
			return nil
		}
		if !errors.Is(err, ErrLinkNotFound) {
			return err
		}
		entryID, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, entryID, entry.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, entry.TenantID, entry.SourceType, entry.SourceID, entryID); err != nil {
			return err
		}
		result = PostResult{EntryID: entryID}
		return nil
	})
	if err != nil {
		// Lost the race to a concurrent poster of the same source; the
		// unique link constraint makes this a safe no-op.
		if errors.Is(err, ErrSourceConflict) {
			existing, lookupErr := p.repo.GetSourceLink(ctx, entry.TenantID, entry.SourceType, entry.SourceID)
			if lookupErr == nil {
				return PostResult{EntryID: existing, AlreadyPosted: true}, nil
			}
		}
		return PostResult{}, err
	}
	if result.AlreadyPosted {
		p.logger.InfoContext(ctx, "skipped repost of linked source",
			slog.Int64("tenant_id", entry.TenantID),
			slog.String("source_type", entry.SourceType),
			slog.Int64("source_id", entry.SourceID),
			slog.Int64("entry_id", result.EntryID))
		return result, nil
	}
	if p.audit != nil {
		_ = p.audit.Record(ctx, audit.Log{
			TenantID: entry.TenantID,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", result.EntryID),
			Meta: map[string]any{
				"source_type": entry.SourceType,
				"source_id":   entry.SourceID,
				"reference":   entry.Reference,
				"total":       entryTotal(entry).String(),
			},
			At: p.now(),
		})
	}
	return result, nil
}

func entryTotal(entry Entry) money.Amount {
	var total money.Amount
	for _, line := range entry.Lines {
		total += line.Debit
	}
	return total
}
