// internal/circulation/ledger.go
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/clock"
	"circdesk/internal/policy"
	"circdesk/internal/telemetry"
)

// Borrow opens a loan for patronID on itemID.
func (e *Engine) Borrow(ctx context.Context, patronID, itemID uuid.UUID) (loan Loan, err error) {
	const op = "borrow"
	ctx, span := e.startSpan(ctx, op, patronID, itemID)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	class, err := e.patron(patronID)
	if err != nil {
		return Loan{}, fail(op, err)
	}
	item, ok := e.items[itemID]
	if !ok {
		return Loan{}, fail(op, ErrUnknownItem)
	}
	if acct, ok := e.accounts[patronID]; ok {
		if _, held := acct.ActiveLoans[itemID]; held {
			return Loan{}, fail(op, ErrAlreadyBorrowed)
		}
	}
	if err := item.canBorrow(patronID); err != nil {
		return Loan{}, fail(op, err)
	}
	if !e.policy.CanBorrowMore(class, e.openLoanCount(patronID)) {
		return Loan{}, fail(op, ErrBorrowLimitReached)
	}

	now := e.clock.Now()
	due := clock.AddDays(now, e.policy.BorrowWindow(class))
	l := &Loan{
		ID:           uuid.New(),
		PatronID:     patronID,
		ItemID:       itemID,
		CheckedOutAt: now,
		DueDate:      due,
		State:        LoanOpen,
	}
	if err := e.commit(ctx, item, LedgerEntry{
		Kind:     EntryBorrow,
		PatronID: patronID,
		LoanID:   l.ID,
		At:       now,
		DueDate:  &due,
	}); err != nil {
		return Loan{}, err
	}

	item.borrow(patronID, now)
	e.loans[l.ID] = l
	e.loanOrder = append(e.loanOrder, l.ID)
	e.openByItem[itemID] = l.ID
	acct := e.account(patronID, class)
	acct.ActiveLoans[itemID] = l.ID
	acct.TotalBorrowed++
	delete(acct.Reservations, itemID)

	e.mustHold(item)
	if limit := e.policy.BorrowLimit(class); len(acct.ActiveLoans) > limit {
		panic(&InvariantError{ItemID: itemID, Rule: "borrow_limit",
			Detail: fmt.Sprintf("patron %s holds %d loans, limit %d", patronID, len(acct.ActiveLoans), limit)})
	}
	e.refreshGauges()
	e.logger.Info("item borrowed", "patron_id", patronID, "item_id", itemID, "loan_id", l.ID, "due", due.Format(time.DateOnly))
	return *l, nil
}

// Return closes the patron's open loan on itemID and charges any late fee.
func (e *Engine) Return(ctx context.Context, patronID, itemID uuid.UUID) (loan Loan, err error) {
	const op = "return"
	ctx, span := e.startSpan(ctx, op, patronID, itemID)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return Loan{}, fail(op, ErrUnknownItem)
	}
	acct, ok := e.accounts[patronID]
	if !ok {
		return Loan{}, fail(op, ErrNoSuchLoan)
	}
	loanID, ok := acct.ActiveLoans[itemID]
	if !ok {
		return Loan{}, fail(op, ErrNoSuchLoan)
	}
	l := e.loans[loanID]
	if l == nil || l.State != LoanOpen {
		return Loan{}, fail(op, ErrNoSuchLoan)
	}

	now := e.clock.Now()
	fee := LateFee(e.policy, *l, now)
	if err := e.commit(ctx, item, LedgerEntry{
		Kind:     EntryReturn,
		PatronID: patronID,
		LoanID:   l.ID,
		At:       now,
		Fee:      fee,
	}); err != nil {
		return Loan{}, err
	}

	head, ready := e.closeLoan(item, l, acct, fee, now)

	e.mustHold(item)
	e.refreshGauges()
	e.logger.Info("item returned", "patron_id", patronID, "item_id", itemID, "loan_id", l.ID, "fee", fee.String())
	if ready {
		e.notifier.ReservationReady(head, itemID, item.Hold.Until)
	}
	return *l, nil
}

// closeLoan marks l returned, charges fee to acct and shelves the copy.
func (e *Engine) closeLoan(item *Item, l *Loan, acct *PatronAccount, fee policy.Money, now time.Time) (uuid.UUID, bool) {
	returnedAt := now
	l.State = LoanReturned
	l.ReturnedAt = &returnedAt
	l.Fee = fee
	delete(e.openByItem, item.ID)
	delete(acct.ActiveLoans, item.ID)
	acct.Balance += fee
	if fee > 0 {
		telemetry.LateFeesCents.Add(float64(fee))
	}
	return item.returned(l.PatronID, now, e.policy.HoldDays)
}

// Reserve puts patronID at the back of itemID's reservation queue.
func (e *Engine) Reserve(ctx context.Context, patronID, itemID uuid.UUID) (err error) {
	const op = "reserve"
	ctx, span := e.startSpan(ctx, op, patronID, itemID)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	class, err := e.patron(patronID)
	if err != nil {
		return fail(op, err)
	}
	item, ok := e.items[itemID]
	if !ok {
		return fail(op, ErrUnknownItem)
	}
	if acct, ok := e.accounts[patronID]; ok {
		if _, held := acct.ActiveLoans[itemID]; held {
			return fail(op, ErrAlreadyBorrowed)
		}
	}
	if err := item.canReserve(patronID); err != nil {
		return fail(op, err)
	}

	now := e.clock.Now()
	if err := e.commit(ctx, item, LedgerEntry{Kind: EntryReserve, PatronID: patronID, At: now}); err != nil {
		return err
	}
	item.reserve(patronID, now, e.policy.HoldDays)
	e.account(patronID, class).Reservations[itemID] = now

	e.mustHold(item)
	e.logger.Info("item reserved", "patron_id", patronID, "item_id", itemID, "position", item.Queue.Position(patronID)+1)
	return nil
}

// CancelReservation removes patronID from itemID's queue. A second cancel of
// the same reservation fails with ErrNoSuchReservation and changes nothing.
func (e *Engine) CancelReservation(ctx context.Context, patronID, itemID uuid.UUID) (err error) {
	const op = "cancel_reservation"
	ctx, span := e.startSpan(ctx, op, patronID, itemID)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return fail(op, ErrUnknownItem)
	}
	if err := item.canCancel(patronID); err != nil {
		return fail(op, err)
	}

	now := e.clock.Now()
	if err := e.commit(ctx, item, LedgerEntry{Kind: EntryCancelReservation, PatronID: patronID, At: now}); err != nil {
		return err
	}
	next, promoted := item.cancel(patronID, now, e.policy.HoldDays)
	if acct, ok := e.accounts[patronID]; ok {
		delete(acct.Reservations, itemID)
	}

	e.mustHold(item)
	e.logger.Info("reservation cancelled", "patron_id", patronID, "item_id", itemID)
	if promoted {
		e.notifier.ReservationReady(next, itemID, item.Hold.Until)
	}
	return nil
}

// Renew pushes an open loan's due date back by days, at most the policy's
// MaxRenewalDays. Renewal is refused while anybody is waiting for the item.
func (e *Engine) Renew(ctx context.Context, loanID uuid.UUID, days int) (loan Loan, err error) {
	const op = "renew"
	ctx, span := e.startSpan(ctx, op, uuid.Nil, uuid.Nil)
	defer func() { e.finish(span, op, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.loans[loanID]
	if !ok {
		return Loan{}, fail(op, ErrUnknownLoan)
	}
	if days <= 0 || days > e.policy.MaxRenewalDays {
		return Loan{}, fail(op, ErrInvalidRenewal)
	}
	if l.State != LoanOpen {
		return Loan{}, fail(op, fmt.Errorf("%w: %w", ErrNotOpen, ErrAlreadyReturned))
	}
	item := e.items[l.ItemID]
	if item.Queue.Len() > 0 {
		return Loan{}, fail(op, ErrRenewalBlocked)
	}

	now := e.clock.Now()
	due := l.DueDate.AddDate(0, 0, days)
	if !due.After(l.DueDate) {
		return Loan{}, fail(op, ErrInvalidRenewal)
	}
	if err := e.commit(ctx, item, LedgerEntry{
		Kind:     EntryRenew,
		PatronID: l.PatronID,
		LoanID:   l.ID,
		At:       now,
		DueDate:  &due,
		Detail:   fmt.Sprintf("+%d days", days),
	}); err != nil {
		return Loan{}, err
	}
	l.DueDate = due
	l.Renewals++

	e.logger.Info("loan renewed", "loan_id", l.ID, "item_id", l.ItemID, "due", due.Format(time.DateOnly))
	return *l, nil
}

// LateFeeFor computes the fee loanID would owe at asOf. It changes nothing.
func (e *Engine) LateFeeFor(loanID uuid.UUID, asOf time.Time) (policy.Money, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.loans[loanID]
	if !ok {
		return 0, fail("late_fee", ErrUnknownLoan)
	}
	if l.State == LoanReturned {
		return l.Fee, nil
	}
	return LateFee(e.policy, *l, asOf), nil
}

// LateFee is the fee for loan if it were returned at asOf: the whole days
// past the due date times the daily rate, never negative.
func LateFee(p policy.Policy, loan Loan, asOf time.Time) policy.Money {
	return p.LateFee(max(0, clock.DaysBetween(loan.DueDate, asOf)))
}
