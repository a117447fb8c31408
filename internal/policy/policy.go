// Package policy holds the adjustable lending rules: patron classes, borrow
// limits, borrow windows, late fees and hold length.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Class is a patron account class.
type Class string

const (
	Standard Class = "standard"
	Premium  Class = "premium"
	Student  Class = "student"
	Faculty  Class = "faculty"
	Staff    Class = "staff"
	Guest    Class = "guest"
)

// ErrUnknownClass is returned by ParseClass for names outside Classes.
var ErrUnknownClass = errors.New("unknown patron class")

// Classes lists every known class in declaration order.
var Classes = []Class{Standard, Premium, Student, Faculty, Staff, Guest}

// ParseClass accepts a class name in any case.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Classes {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownClass, s)
}

const (
	DefaultBorrowLimitBase    = 5
	DefaultBaseWindowDays     = 14
	DefaultExtendedWindowDays = 21
	DefaultLateFeePerDay      = Money(50)
	DefaultHoldDays           = 3
	DefaultRenewalDays        = 14
	DefaultMaxRenewalDays     = 90
)

// Policy is the lending policy table. The zero value is not useful; start from
// Default().
type Policy struct {
	BorrowLimitBase    int
	BaseWindowDays     int
	ExtendedWindowDays int
	LateFeePerDay      Money
	HoldDays           int
	RenewalDays        int
	MaxRenewalDays     int
}

// Default returns the library's standard policy.
func Default() Policy {
	return Policy{
		BorrowLimitBase:    DefaultBorrowLimitBase,
		BaseWindowDays:     DefaultBaseWindowDays,
		ExtendedWindowDays: DefaultExtendedWindowDays,
		LateFeePerDay:      DefaultLateFeePerDay,
		HoldDays:           DefaultHoldDays,
		RenewalDays:        DefaultRenewalDays,
		MaxRenewalDays:     DefaultMaxRenewalDays,
	}
}

// Validate rejects tables that would make borrowing impossible or fees negative.
func (p Policy) Validate() error {
	switch {
	case p.BorrowLimitBase <= 0:
		return fmt.Errorf("borrow limit base must be positive, got %d", p.BorrowLimitBase)
	case p.BaseWindowDays <= 0 || p.ExtendedWindowDays <= 0:
		return fmt.Errorf("borrow windows must be positive, got %d/%d", p.BaseWindowDays, p.ExtendedWindowDays)
	case p.LateFeePerDay < 0:
		return fmt.Errorf("late fee rate must not be negative, got %s", p.LateFeePerDay)
	case p.HoldDays < 0:
		return fmt.Errorf("hold days must not be negative, got %d", p.HoldDays)
	case p.RenewalDays <= 0:
		return fmt.Errorf("renewal days must be positive, got %d", p.RenewalDays)
	case p.MaxRenewalDays < p.RenewalDays:
		return fmt.Errorf("max renewal days %d below renewal days %d", p.MaxRenewalDays, p.RenewalDays)
	}
	return nil
}

// BorrowLimit is the maximum number of open loans for a class.
func (p Policy) BorrowLimit(c Class) int {
	switch c {
	case Premium:
		return 2 * p.BorrowLimitBase
	case Faculty:
		return 10
	case Staff:
		return 8
	case Guest:
		return 2
	default:
		return p.BorrowLimitBase
	}
}

// BorrowWindow is the number of days between checkout and due date.
func (p Policy) BorrowWindow(c Class) int {
	switch c {
	case Premium, Faculty, Staff:
		return p.ExtendedWindowDays
	default:
		return p.BaseWindowDays
	}
}

// CanBorrowMore reports whether a patron of class c holding open loans may take one more.
func (p Policy) CanBorrowMore(c Class, open int) bool {
	return open < p.BorrowLimit(c)
}

// LateFee is the fee for the given number of days overdue. Non-positive days cost nothing.
func (p Policy) LateFee(daysOverdue int) Money {
	if daysOverdue <= 0 {
		return 0
	}
	return Money(daysOverdue) * p.LateFeePerDay
}
