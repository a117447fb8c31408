// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/notify"
	"circdesk/internal/policy"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, patronID, itemID uuid.UUID) (Loan, error)
	Return(ctx context.Context, patronID, itemID uuid.UUID) (Loan, error)
	Reserve(ctx context.Context, patronID, itemID uuid.UUID) error
	CancelReservation(ctx context.Context, patronID, itemID uuid.UUID) error
	Renew(ctx context.Context, loanID uuid.UUID, days int) (Loan, error)
	LateFeeFor(loanID uuid.UUID, asOf time.Time) (policy.Money, error)

	RegisterItem(ctx context.Context, itemID uuid.UUID) (Item, error)
	SetStatus(ctx context.Context, itemID uuid.UUID, status ItemStatus) (Item, error)
	Sweep(ctx context.Context) SweepReport

	Item(itemID uuid.UUID) (Item, error)
	Loan(loanID uuid.UUID) (Loan, error)
	Account(patronID uuid.UUID) (PatronAccount, error)
	OpenLoans() []Loan
	OverdueLoans(asOf time.Time) []Loan
	LoansFor(patronID uuid.UUID) []Loan
	BorrowCounts() map[uuid.UUID]int
	TopBorrowed(n int) []BorrowCount
	Ledger() []LedgerEntry
	Audit() []Violation
	Policy() policy.Policy
}

// Catalog answers whether an item exists and what genre it is filed under.
type Catalog interface {
	ItemExists(itemID uuid.UUID) bool
	GenreOf(itemID uuid.UUID) (string, bool)
}

// Directory resolves patrons to their account class and standing.
type Directory interface {
	AccountClass(patronID uuid.UUID) (policy.Class, bool)
	IsActive(patronID uuid.UUID) bool
}

// Notifier receives the notices the engine raises. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Send(n notify.Notification) notify.Notification
	ReservationReady(patronID, itemID uuid.UUID, holdUntil time.Time) notify.Notification
	DueSoon(patronID, itemID, loanID uuid.UUID, due time.Time) bool
	Overdue(patronID, itemID, loanID uuid.UUID, daysOverdue int, asOf time.Time) bool
}

// Journal durably records ledger entries. The engine appends before it
// mutates, so a failed append leaves the engine untouched.
type Journal interface {
	Append(ctx context.Context, entries []LedgerEntry) error
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, []LedgerEntry) error { return nil }
