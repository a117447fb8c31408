package circulation

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/clock"
)

// Item returns a copy of the item's current state.
func (e *Engine) Item(itemID uuid.UUID) (Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[itemID]
	if !ok {
		return Item{}, fail("item", ErrUnknownItem)
	}
	return it.clone(), nil
}

func (e *Engine) Loan(loanID uuid.UUID) (Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.loans[loanID]
	if !ok {
		return Loan{}, fail("loan", ErrUnknownLoan)
	}
	return *l, nil
}

// Account returns a patron's account with the class the directory currently
// reports. Known patrons that never borrowed get an empty one.
func (e *Engine) Account(patronID uuid.UUID) (PatronAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	class, known := e.directory.AccountClass(patronID)
	acct, ok := e.accounts[patronID]
	switch {
	case ok:
		out := acct.clone()
		if known {
			out.Class = class
		}
		return out, nil
	case known:
		return newAccount(patronID, class).clone(), nil
	}
	return PatronAccount{}, fail("account", ErrUnknownPatron)
}

// OpenLoans lists every open loan in checkout order.
func (e *Engine) OpenLoans() []Loan {
	return e.collectLoans(func(l *Loan) bool { return l.State == LoanOpen })
}

// OverdueLoans lists open loans whose due date is before asOf's date.
func (e *Engine) OverdueLoans(asOf time.Time) []Loan {
	return e.collectLoans(func(l *Loan) bool {
		return l.State == LoanOpen && clock.DaysBetween(l.DueDate, asOf) > 0
	})
}

// LoansFor lists all of a patron's loans, open and returned.
func (e *Engine) LoansFor(patronID uuid.UUID) []Loan {
	return e.collectLoans(func(l *Loan) bool { return l.PatronID == patronID })
}

func (e *Engine) collectLoans(keep func(*Loan) bool) []Loan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Loan, 0)
	for _, id := range e.loanOrder {
		if l := e.loans[id]; keep(l) {
			out = append(out, *l)
		}
	}
	return out
}

// BorrowCounts maps every tracked item to its lifetime borrow count.
func (e *Engine) BorrowCounts() map[uuid.UUID]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uuid.UUID]int, len(e.items))
	for id, it := range e.items {
		out[id] = it.BorrowCount
	}
	return out
}

// TopBorrowed returns the n most borrowed items, ties broken by id.
func (e *Engine) TopBorrowed(n int) []BorrowCount {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]BorrowCount, 0, len(e.items))
	for id, it := range e.items {
		out = append(out, BorrowCount{ItemID: id, Count: it.BorrowCount})
	}
	slices.SortFunc(out, func(a, b BorrowCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return bytes.Compare(a.ItemID[:], b.ItemID[:])
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Ledger returns the full transaction record in order.
func (e *Engine) Ledger() []LedgerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.entries)
}

func (e *Engine) sortedItems() []*Item {
	items := make([]*Item, 0, len(e.items))
	for _, it := range e.items {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b *Item) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return items
}

func (a *PatronAccount) clone() PatronAccount {
	c := *a
	c.ActiveLoans = make(map[uuid.UUID]uuid.UUID, len(a.ActiveLoans))
	for k, v := range a.ActiveLoans {
		c.ActiveLoans[k] = v
	}
	c.Reservations = make(map[uuid.UUID]time.Time, len(a.Reservations))
	for k, v := range a.Reservations {
		c.Reservations[k] = v
	}
	return c
}
