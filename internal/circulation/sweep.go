package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/clock"
	"circdesk/internal/telemetry"
)

// Sweep runs the periodic due-date pass: it reminds borrowers whose loans are
// due tomorrow, flags overdue loans and expires holds nobody collected.
// Repeating a sweep on the same day sends nothing new.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	ctx, span := e.startSpan(ctx, "sweep", uuid.Nil, uuid.Nil)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() { telemetry.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var report SweepReport
	now := e.clock.Now()
	for _, id := range e.loanOrder {
		l := e.loans[id]
		if l.State != LoanOpen {
			continue
		}
		switch days := clock.DaysBetween(now, l.DueDate); {
		case days == 1:
			if e.notifier.DueSoon(l.PatronID, l.ItemID, l.ID, l.DueDate) {
				report.DueSoon++
			}
		case days < 0:
			if e.notifier.Overdue(l.PatronID, l.ItemID, l.ID, -days, now) {
				report.Overdue++
			}
		}
	}

	for _, item := range e.sortedItems() {
		if !item.holdExpired(now) {
			continue
		}
		if err := e.expireHold(ctx, item, now); err != nil {
			e.logger.Error("failed to expire hold", "item_id", item.ID, "error", err)
			continue
		}
		report.HoldsExpired++
	}

	if report != (SweepReport{}) {
		e.logger.Info("sweep complete", "due_soon", report.DueSoon, "overdue", report.Overdue, "holds_expired", report.HoldsExpired)
	}
	return report
}

// expireHold drops the patron whose hold ran out and hands the copy to the
// next in line, or back to the shelf.
func (e *Engine) expireHold(ctx context.Context, item *Item, now time.Time) error {
	expired := item.Hold.PatronID
	if err := e.commit(ctx, item, LedgerEntry{Kind: EntryHoldExpired, PatronID: expired, At: now}); err != nil {
		return err
	}
	next, promoted := item.cancel(expired, now, e.policy.HoldDays)
	if acct, ok := e.accounts[expired]; ok {
		delete(acct.Reservations, item.ID)
	}
	e.mustHold(item)
	e.logger.Info("hold expired", "patron_id", expired, "item_id", item.ID)
	if promoted {
		e.notifier.ReservationReady(next, item.ID, item.Hold.Until)
	}
	return nil
}
