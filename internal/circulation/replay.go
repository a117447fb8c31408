package circulation

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Replay applies journalled entries that follow the engine's current ledger
// sequence, e.g. the tail written after the last snapshot. Entries at or
// below the current sequence are skipped. Nothing is journalled and nobody
// is notified. Replay is meant for startup: when it fails the engine is left
// half-applied and should be discarded.
func (e *Engine) Replay(entries []LedgerEntry) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b LedgerEntry) int { return cmp.Compare(a.Seq, b.Seq) })

	applied := 0
	for _, entry := range sorted {
		if entry.Seq <= e.seq {
			continue
		}
		if entry.Seq != e.seq+1 {
			return applied, fmt.Errorf("%w: ledger jumps from %d to %d", ErrCorruptState, e.seq, entry.Seq)
		}
		if err := e.replayEntry(entry); err != nil {
			return applied, fmt.Errorf("%w: entry %d (%s): %w", ErrCorruptState, entry.Seq, entry.Kind, err)
		}
		e.seq = entry.Seq
		e.entries = append(e.entries, entry)
		applied++
	}
	if v := e.auditLocked(); len(v) > 0 {
		return applied, fmt.Errorf("%w: %s on item %s: %s", ErrCorruptState, v[0].Rule, v[0].ItemID, v[0].Detail)
	}
	e.refreshGauges()
	if applied > 0 {
		e.logger.Info("ledger replayed", "entries", applied, "seq", e.seq)
	}
	return applied, nil
}

func (e *Engine) replayEntry(entry LedgerEntry) error {
	if entry.Kind == EntryItemRegistered {
		if _, ok := e.items[entry.ItemID]; ok {
			return ErrItemExists
		}
		e.items[entry.ItemID] = &Item{ID: entry.ItemID, Status: StatusAvailable, Version: entry.ItemVersion}
		return nil
	}

	item, ok := e.items[entry.ItemID]
	if !ok {
		return ErrUnknownItem
	}
	if entry.ItemVersion != item.Version+1 {
		return fmt.Errorf("item %s at version %d, entry carries %d", item.ID, item.Version, entry.ItemVersion)
	}
	item.Version = entry.ItemVersion

	switch entry.Kind {
	case EntryBorrow:
		if entry.DueDate == nil {
			return fmt.Errorf("borrow without due date")
		}
		l := &Loan{
			ID:           entry.LoanID,
			PatronID:     entry.PatronID,
			ItemID:       entry.ItemID,
			CheckedOutAt: entry.At,
			DueDate:      *entry.DueDate,
			State:        LoanOpen,
		}
		item.borrow(entry.PatronID, entry.At)
		e.loans[l.ID] = l
		e.loanOrder = append(e.loanOrder, l.ID)
		e.openByItem[item.ID] = l.ID
		acct := e.replayAccount(entry.PatronID)
		acct.ActiveLoans[item.ID] = l.ID
		acct.TotalBorrowed++
		delete(acct.Reservations, item.ID)

	case EntryReturn:
		l, ok := e.loans[entry.LoanID]
		if !ok || l.State != LoanOpen {
			return ErrNoSuchLoan
		}
		returnedAt := entry.At
		l.State = LoanReturned
		l.ReturnedAt = &returnedAt
		l.Fee = entry.Fee
		delete(e.openByItem, item.ID)
		acct := e.replayAccount(entry.PatronID)
		delete(acct.ActiveLoans, item.ID)
		acct.Balance += entry.Fee
		item.returned(entry.PatronID, entry.At, e.policy.HoldDays)

	case EntryRenew:
		l, ok := e.loans[entry.LoanID]
		if !ok || entry.DueDate == nil {
			return ErrUnknownLoan
		}
		l.DueDate = *entry.DueDate
		l.Renewals++

	case EntryReserve:
		item.reserve(entry.PatronID, entry.At, e.policy.HoldDays)
		e.replayAccount(entry.PatronID).Reservations[item.ID] = entry.At

	case EntryCancelReservation, EntryHoldExpired:
		// withdrawn items already dropped their queue with the status change
		if item.Queue.Contains(entry.PatronID) {
			item.cancel(entry.PatronID, entry.At, e.policy.HoldDays)
		}
		if acct, ok := e.accounts[entry.PatronID]; ok {
			delete(acct.Reservations, item.ID)
		}

	case EntryStatusChange:
		_, to, ok := strings.Cut(entry.Detail, " -> ")
		target, valid := ParseStatus(to)
		if !ok || !valid {
			return fmt.Errorf("unreadable status change %q", entry.Detail)
		}
		item.setStatus(target, entry.At)

	default:
		return fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
	return nil
}

// replayAccount finds or creates the patron's account, taking the class from
// the directory when it still knows the patron.
func (e *Engine) replayAccount(patronID uuid.UUID) *PatronAccount {
	class, _ := e.directory.AccountClass(patronID)
	return e.account(patronID, class)
}
