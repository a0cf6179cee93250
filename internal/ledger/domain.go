package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/keppel-erp/keppel/internal/money"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusPosted EntryStatus = "POSTED"
)

// AccountRole names a logical account resolved per tenant by the
// Account Resolver.
type AccountRole string

const (
	RoleAccountsReceivable AccountRole = "ACCOUNTS_RECEIVABLE"
	RoleAccountsPayable    AccountRole = "ACCOUNTS_PAYABLE"
	RoleSales              AccountRole = "SALES"
	RoleExpense            AccountRole = "EXPENSE"
	RoleVATOutput          AccountRole = "VAT_OUTPUT"
	RoleVATInput           AccountRole = "VAT_INPUT"
	RoleBank               AccountRole = "BANK"
	RoleInventory          AccountRole = "INVENTORY"
	RoleCOGS               AccountRole = "COGS"
)

// Entry is a balanced set of debit/credit lines recording one financial
// event. Entries are append-only; corrections are new reversing entries.
type Entry struct {
	ID          int64
	TenantID    int64
	Date        time.Time
	Reference   string
	Description string
	SourceType  string
	SourceID    int64
	Status      EntryStatus
	PostedAt    time.Time
	CreatedAt   time.Time
	Lines       []Line
}

// Line stores a debit or credit amount for an account. Both amounts zero is
// tolerated for informational lines.
type Line struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Description string
	Debit       money.Amount
	Credit      money.Amount
	PartyRef    string
}

var (
	// ErrEmptyEntry indicates an entry with no lines.
	ErrEmptyEntry = errors.New("ledger: entry has no lines")
	// ErrNegativeAmount indicates a line with a negative debit or credit.
	ErrNegativeAmount = errors.New("ledger: line amount must be >= 0")
	// ErrDebitAndCredit indicates a line carrying both sides.
	ErrDebitAndCredit = errors.New("ledger: line cannot be both debit and credit")
	// ErrEntryNotFound indicates a missing entry.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrPeriodLocked indicates posting against a closed accounting period.
	ErrPeriodLocked = errors.New("ledger: period locked")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("ledger: source already linked")
	// ErrLinkNotFound indicates no journal link for a source document.
	ErrLinkNotFound = errors.New("ledger: source link not found")
	// ErrDocumentNotFound indicates a missing source document.
	ErrDocumentNotFound = errors.New("ledger: source document not found")
)

// UnbalancedError reports the debit minus credit delta of an invalid entry.
// It signals a poster construction bug and always aborts the transaction.
type UnbalancedError struct {
	Delta money.Amount
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger: entry unbalanced by %s", e.Delta)
}

// MissingMappingError names the unresolved account role so an administrator
// can fix tenant configuration.
type MissingMappingError struct {
	Role AccountRole
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("ledger: no account mapped for role %s", e.Role)
}

// Validate checks the entry invariants: at least one line, no negative
// amounts, one side per line, and debits equal to credits at minor-unit
// precision.
func (e Entry) Validate() error {
	if len(e.Lines) == 0 {
		return ErrEmptyEntry
	}
	var debit, credit money.Amount
	for idx, line := range e.Lines {
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w (line %d)", ErrNegativeAmount, idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("%w (line %d)", ErrDebitAndCredit, idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return &UnbalancedError{Delta: debit - credit}
	}
	return nil
}
