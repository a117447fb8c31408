// internal/circulation/errors.go
package circulation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Validation failures: a precondition did not hold. No state was changed.
var (
	ErrItemUnavailable    = errors.New("item is not available for borrowing")
	ErrBorrowLimitReached = errors.New("borrow limit reached")
	ErrAlreadyBorrowed    = errors.New("item already borrowed by this patron")
	ErrInactiveAccount    = errors.New("patron account is inactive")
	ErrAlreadyReserved    = errors.New("item already reserved by this patron")
	ErrNotReservable      = errors.New("item cannot be reserved in its current status")
	ErrNotOpen            = errors.New("loan is not open")
	ErrAlreadyReturned    = errors.New("loan already returned")
	ErrRenewalBlocked     = errors.New("renewal blocked by pending reservations")
	ErrInvalidRenewal     = errors.New("renewal period out of range")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrItemExists         = errors.New("item already registered")
)

// Not-found failures: a reference did not resolve.
var (
	ErrUnknownItem       = errors.New("unknown item")
	ErrUnknownPatron     = errors.New("unknown patron")
	ErrUnknownLoan       = errors.New("unknown loan")
	ErrNoSuchLoan        = errors.New("no open loan for this patron and item")
	ErrNoSuchReservation = errors.New("no reservation for this patron and item")
)

// ErrorKind separates caller mistakes from unresolved references.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is returned by every engine operation that rejects a request.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, err error) error {
	kind := KindValidation
	for _, nf := range []error{ErrUnknownItem, ErrUnknownPatron, ErrUnknownLoan, ErrNoSuchLoan, ErrNoSuchReservation} {
		if errors.Is(err, nf) {
			kind = KindNotFound
			break
		}
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of an engine error, or 0 for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation reports whether err is a rejected precondition.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is an unresolved reference.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// InvariantError signals corrupted engine state. It is a programming defect,
// never a user error, and the engine panics with it.
type InvariantError struct {
	ItemID uuid.UUID
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("circulation invariant %q violated for item %s: %s", e.Rule, e.ItemID, e.Detail)
}
