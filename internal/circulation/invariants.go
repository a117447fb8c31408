package circulation

import (
	"fmt"

	"github.com/google/uuid"
)

// Violation describes one broken consistency rule.
type Violation struct {
	ItemID uuid.UUID `json:"item_id"`
	Rule   string    `json:"rule"`
	Detail string    `json:"detail"`
}

// mustHold panics when item is inconsistent after a mutation.
func (e *Engine) mustHold(item *Item) {
	if v := e.checkItem(item); len(v) > 0 {
		panic(&InvariantError{ItemID: v[0].ItemID, Rule: v[0].Rule, Detail: v[0].Detail})
	}
}

func (e *Engine) checkItem(it *Item) []Violation {
	var out []Violation
	add := func(rule, format string, args ...any) {
		out = append(out, Violation{ItemID: it.ID, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	reserved := it.Queue.Len() > 0 && it.Status != StatusBorrowed
	if (it.Status == StatusReserved) != reserved {
		add("reserved_iff_queued", "status %s with %d queued", it.Status, it.Queue.Len())
	}

	loanID, onLoan := e.openByItem[it.ID]
	if (it.Status == StatusBorrowed) != onLoan {
		add("borrowed_iff_open_loan", "status %s, open loan present=%t", it.Status, onLoan)
	}
	if onLoan {
		l, ok := e.loans[loanID]
		switch {
		case !ok:
			add("open_loan_exists", "open loan %s missing", loanID)
		case l.State != LoanOpen || l.ItemID != it.ID:
			add("open_loan_exists", "loan %s is %s for item %s", loanID, l.State, l.ItemID)
		}
	}

	seen := make(map[uuid.UUID]struct{}, it.Queue.Len())
	for _, p := range it.Queue {
		if _, dup := seen[p]; dup {
			add("queue_unique", "patron %s queued twice", p)
		}
		seen[p] = struct{}{}
	}

	if it.Status == StatusReserved && it.Hold == nil {
		add("hold_present", "reserved without a hold")
	}
	if it.Hold != nil {
		head, _ := it.Queue.Head()
		if it.Status != StatusReserved || it.Hold.PatronID != head {
			add("hold_matches_head", "hold for %s, status %s, head %s", it.Hold.PatronID, it.Status, head)
		}
	}
	return out
}

// Audit checks every item and account without panicking and returns what is
// broken. A healthy engine returns nothing.
func (e *Engine) Audit() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auditLocked()
}

func (e *Engine) auditLocked() []Violation {
	var out []Violation
	for _, it := range e.sortedItems() {
		out = append(out, e.checkItem(it)...)
	}
	for itemID, loanID := range e.openByItem {
		if _, ok := e.items[itemID]; !ok {
			out = append(out, Violation{ItemID: itemID, Rule: "loan_item_tracked", Detail: "open loan " + loanID.String() + " on untracked item"})
		}
	}
	for _, acct := range e.accounts {
		for itemID, loanID := range acct.ActiveLoans {
			if e.openByItem[itemID] != loanID {
				out = append(out, Violation{ItemID: itemID, Rule: "account_loan_open",
					Detail: fmt.Sprintf("patron %s lists loan %s which is not the item's open loan", acct.PatronID, loanID)})
			}
		}
		for itemID := range acct.Reservations {
			if it, ok := e.items[itemID]; !ok || !it.Queue.Contains(acct.PatronID) {
				out = append(out, Violation{ItemID: itemID, Rule: "account_reservation_queued",
					Detail: fmt.Sprintf("patron %s lists a reservation missing from the queue", acct.PatronID)})
			}
		}
	}
	return out
}
