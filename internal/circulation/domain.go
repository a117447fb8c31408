// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"circdesk/internal/policy"
)

// ItemStatus is the availability state of one copy.
type ItemStatus string

const (
	StatusAvailable   ItemStatus = "available"
	StatusBorrowed    ItemStatus = "borrowed"
	StatusReserved    ItemStatus = "reserved"
	StatusLost        ItemStatus = "lost"
	StatusDamaged     ItemStatus = "damaged"
	StatusMaintenance ItemStatus = "maintenance"
)

// administrative reports whether s is one of the override states that take a
// copy out of circulation.
func (s ItemStatus) administrative() bool {
	return s == StatusLost || s == StatusDamaged || s == StatusMaintenance
}

// ParseStatus maps a status name to an ItemStatus.
func ParseStatus(s string) (ItemStatus, bool) {
	switch st := ItemStatus(s); st {
	case StatusAvailable, StatusBorrowed, StatusReserved, StatusLost, StatusDamaged, StatusMaintenance:
		return st, true
	}
	return "", false
}

// Item is one lendable copy tracked by the engine.
type Item struct {
	ID          uuid.UUID       `json:"id"`
	Status      ItemStatus      `json:"status"`
	BorrowCount int             `json:"borrow_count"`
	Queue       Queue           `json:"queue"`
	Hold        *Hold           `json:"hold,omitempty"`
	History     []HistoryRecord `json:"history"`
	Version     int             `json:"version"`
}

// Hold reserves a shelved copy for the head of the queue until Until.
type Hold struct {
	PatronID uuid.UUID `json:"patron_id"`
	Until    time.Time `json:"until"`
}

// HistoryRecord is one line of an item's borrow history.
type HistoryRecord struct {
	PatronID uuid.UUID `json:"patron_id"`
	Action   string    `json:"action"`
	At       time.Time `json:"at"`
}

// LoanState is the lifecycle state of a loan.
type LoanState string

const (
	LoanOpen     LoanState = "open"
	LoanReturned LoanState = "returned"
)

// Loan is one borrow episode.
type Loan struct {
	ID           uuid.UUID    `json:"id"`
	PatronID     uuid.UUID    `json:"patron_id"`
	ItemID       uuid.UUID    `json:"item_id"`
	CheckedOutAt time.Time    `json:"checked_out_at"`
	DueDate      time.Time    `json:"due_date"`
	ReturnedAt   *time.Time   `json:"returned_at,omitempty"`
	Fee          policy.Money `json:"fee"`
	State        LoanState    `json:"state"`
	Renewals     int          `json:"renewals"`
}

// PatronAccount keeps a patron's references into the ledger. It never owns
// the loan records themselves.
type PatronAccount struct {
	PatronID      uuid.UUID               `json:"patron_id"`
	Class         policy.Class            `json:"class"`
	ActiveLoans   map[uuid.UUID]uuid.UUID `json:"active_loans"`
	Reservations  map[uuid.UUID]time.Time `json:"reservations"`
	Balance       policy.Money            `json:"balance"`
	TotalBorrowed int                     `json:"total_borrowed"`
}

func newAccount(patronID uuid.UUID, class policy.Class) *PatronAccount {
	return &PatronAccount{
		PatronID:     patronID,
		Class:        class,
		ActiveLoans:  make(map[uuid.UUID]uuid.UUID),
		Reservations: make(map[uuid.UUID]time.Time),
	}
}

// EntryKind names a ledger entry.
type EntryKind string

const (
	EntryItemRegistered    EntryKind = "item_registered"
	EntryBorrow            EntryKind = "borrow"
	EntryReturn            EntryKind = "return"
	EntryRenew             EntryKind = "renew"
	EntryReserve           EntryKind = "reserve"
	EntryCancelReservation EntryKind = "cancel_reservation"
	EntryHoldExpired       EntryKind = "hold_expired"
	EntryStatusChange      EntryKind = "status_change"
)

// EventType is the journal event name for the entry kind.
func (k EntryKind) EventType() string {
	switch k {
	case EntryItemRegistered:
		return "ItemRegistered"
	case EntryBorrow:
		return "ItemCheckedOut"
	case EntryReturn:
		return "ItemReturned"
	case EntryRenew:
		return "LoanRenewed"
	case EntryReserve:
		return "ItemReserved"
	case EntryCancelReservation:
		return "ReservationCanceled"
	case EntryHoldExpired:
		return "HoldExpired"
	case EntryStatusChange:
		return "ItemStatusChanged"
	}
	return string(k)
}

// LedgerEntry is one append-only record of a circulation transaction.
type LedgerEntry struct {
	Seq         int64        `json:"seq"`
	ID          uuid.UUID    `json:"id"`
	Kind        EntryKind    `json:"kind"`
	ItemID      uuid.UUID    `json:"item_id"`
	ItemVersion int          `json:"item_version"`
	PatronID    uuid.UUID    `json:"patron_id,omitempty"`
	LoanID      uuid.UUID    `json:"loan_id,omitempty"`
	At          time.Time    `json:"at"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Fee         policy.Money `json:"fee,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

// BorrowCount pairs an item with how often it was borrowed.
type BorrowCount struct {
	ItemID uuid.UUID `json:"item_id"`
	Count  int       `json:"count"`
}

// SweepReport summarizes one due-date sweep.
type SweepReport struct {
	DueSoon      int `json:"due_soon"`
	Overdue      int `json:"overdue"`
	HoldsExpired int `json:"holds_expired"`
}
