package circulation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"circdesk/internal/notify"
	"circdesk/internal/policy"
)

// RegisterItem starts tracking a catalogued copy. New copies are available.
func (e *Engine) RegisterItem(ctx context.Context, itemID uuid.UUID) (item Item, err error) {
	const op = "register_item"
	ctx, span := e.startSpan(ctx, op, uuid.Nil, itemID)
	defer func() { e.finish(span, op, err) }()

	if !e.catalog.ItemExists(itemID) {
		return Item{}, fail(op, ErrUnknownItem)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.items[itemID]; ok {
		return Item{}, fail(op, ErrItemExists)
	}
	now := e.clock.Now()
	genre, _ := e.catalog.GenreOf(itemID)
	it := &Item{ID: itemID, Status: StatusAvailable}
	if err := e.commit(ctx, it, LedgerEntry{Kind: EntryItemRegistered, At: now, Detail: genre}); err != nil {
		return Item{}, err
	}
	e.items[itemID] = it
	e.mustHold(it)
	e.logger.Info("item registered", "item_id", itemID, "genre", genre)
	return it.clone(), nil
}

// SetStatus applies an administrative override. Any copy can be marked lost,
// damaged or under maintenance, which drops its queue; a copy on loan has the
// loan closed first, charging the late fee accrued so far. Only those states
// can be restored to available.
func (e *Engine) SetStatus(ctx context.Context, itemID uuid.UUID, status ItemStatus) (item Item, err error) {
	const op = "set_status"
	ctx, span := e.startSpan(ctx, op, uuid.Nil, itemID)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[itemID]
	if !ok {
		return Item{}, fail(op, ErrUnknownItem)
	}
	if err := it.canSetStatus(status); err != nil {
		return Item{}, fail(op, err)
	}

	now := e.clock.Now()
	var (
		entries []LedgerEntry
		loan    *Loan
		fee     policy.Money
	)
	if it.Status == StatusBorrowed {
		loan = e.loans[e.openByItem[itemID]]
		if loan == nil {
			return Item{}, fail(op, ErrNoSuchLoan)
		}
		fee = LateFee(e.policy, *loan, now)
		entries = append(entries, LedgerEntry{
			Kind:     EntryReturn,
			PatronID: loan.PatronID,
			LoanID:   loan.ID,
			At:       now,
			Fee:      fee,
			Detail:   "closed: item " + string(status),
		})
	}
	entries = append(entries, LedgerEntry{
		Kind:   EntryStatusChange,
		At:     now,
		Detail: fmt.Sprintf("%s -> %s", it.Status, status),
	})
	if status.administrative() {
		for _, p := range it.Queue {
			entries = append(entries, LedgerEntry{Kind: EntryCancelReservation, PatronID: p, At: now, Detail: "item withdrawn"})
		}
	}
	if err := e.commit(ctx, it, entries...); err != nil {
		return Item{}, err
	}
	from := it.Status
	if loan != nil {
		e.closeLoan(it, loan, e.accounts[loan.PatronID], fee, now)
		e.refreshGauges()
		e.notifier.Send(notify.Notification{
			PatronID: loan.PatronID,
			Kind:     notify.Announcement,
			ItemID:   itemID,
			Message:  fmt.Sprintf("Your loan of item %s was closed: the item is %s. Fee charged: %s.", itemID, status, fee),
		})
	}
	dropped := it.setStatus(status, now)
	for _, p := range dropped {
		if acct, ok := e.accounts[p]; ok {
			delete(acct.Reservations, itemID)
		}
		e.notifier.Send(notify.Notification{
			PatronID: p,
			Kind:     notify.Announcement,
			ItemID:   itemID,
			Message:  fmt.Sprintf("Your reservation for item %s was cancelled: the item is %s.", itemID, status),
		})
	}

	e.mustHold(it)
	e.logger.Info("item status changed", "item_id", itemID, "from", from, "to", status, "dropped_reservations", len(dropped))
	return it.clone(), nil
}
