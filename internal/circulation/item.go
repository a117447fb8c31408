package circulation

import (
	"time"

	"github.com/google/uuid"

	"circdesk/internal/clock"
)

// The methods below are the item status machine. The can* checks never
// mutate; the remaining methods assume the matching check passed.

func (it *Item) canBorrow(patronID uuid.UUID) error {
	switch it.Status {
	case StatusAvailable:
		return nil
	case StatusReserved:
		if head, ok := it.Queue.Head(); ok && head == patronID {
			return nil
		}
	}
	return ErrItemUnavailable
}

func (it *Item) borrow(patronID uuid.UUID, now time.Time) {
	it.Queue.Remove(patronID)
	it.Hold = nil
	it.Status = StatusBorrowed
	it.BorrowCount++
	it.record(patronID, "borrowed", now)
}

// returned puts the copy back into circulation. When patrons are waiting the
// head gets a hold and is returned so it can be told.
func (it *Item) returned(patronID uuid.UUID, now time.Time, holdDays int) (uuid.UUID, bool) {
	it.record(patronID, "returned", now)
	head, ok := it.Queue.Head()
	if !ok {
		it.Status = StatusAvailable
		it.Hold = nil
		return uuid.Nil, false
	}
	it.Status = StatusReserved
	it.Hold = &Hold{PatronID: head, Until: clock.AddDays(now, holdDays)}
	return head, true
}

func (it *Item) canReserve(patronID uuid.UUID) error {
	switch it.Status {
	case StatusAvailable, StatusReserved, StatusBorrowed:
	default:
		return ErrNotReservable
	}
	if it.Queue.Contains(patronID) {
		return ErrAlreadyReserved
	}
	return nil
}

func (it *Item) reserve(patronID uuid.UUID, now time.Time, holdDays int) {
	it.Queue.Push(patronID)
	if it.Status == StatusAvailable {
		it.Status = StatusReserved
		it.Hold = &Hold{PatronID: patronID, Until: clock.AddDays(now, holdDays)}
	}
}

func (it *Item) canCancel(patronID uuid.UUID) error {
	if !it.Queue.Contains(patronID) {
		return ErrNoSuchReservation
	}
	return nil
}

// cancel drops patronID from the queue. If that patron held the shelved copy
// the hold passes to the next in line, who is returned for notification.
func (it *Item) cancel(patronID uuid.UUID, now time.Time, holdDays int) (uuid.UUID, bool) {
	wasHead := it.Queue.Position(patronID) == 0
	it.Queue.Remove(patronID)
	if it.Status != StatusReserved {
		return uuid.Nil, false
	}
	head, ok := it.Queue.Head()
	if !ok {
		it.Status = StatusAvailable
		it.Hold = nil
		return uuid.Nil, false
	}
	if !wasHead {
		return uuid.Nil, false
	}
	it.Hold = &Hold{PatronID: head, Until: clock.AddDays(now, holdDays)}
	return head, true
}

// holdExpired reports whether the shelved copy's hold ran out at now.
func (it *Item) holdExpired(now time.Time) bool {
	return it.Status == StatusReserved && it.Hold != nil && !now.Before(it.Hold.Until)
}

func (it *Item) canSetStatus(target ItemStatus) error {
	if target == it.Status {
		return ErrInvalidTransition
	}
	switch {
	case target.administrative():
		return nil
	case target == StatusAvailable && it.Status.administrative():
		return nil
	}
	return ErrInvalidTransition
}

// setStatus applies an administrative override. Taking a copy out of
// circulation drops its queue; the dropped patrons are returned.
func (it *Item) setStatus(target ItemStatus, now time.Time) []uuid.UUID {
	var dropped []uuid.UUID
	if target.administrative() {
		dropped = it.Queue.clone()
		it.Queue = nil
		it.Hold = nil
	}
	it.Status = target
	it.record(uuid.Nil, "status:"+string(target), now)
	return dropped
}

func (it *Item) record(patronID uuid.UUID, action string, at time.Time) {
	it.History = append(it.History, HistoryRecord{PatronID: patronID, Action: action, At: at})
}

func (it *Item) clone() Item {
	c := *it
	c.Queue = it.Queue.clone()
	if it.Hold != nil {
		h := *it.Hold
		c.Hold = &h
	}
	c.History = append([]HistoryRecord(nil), it.History...)
	return c
}
