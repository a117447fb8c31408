// internal/notify/dispatcher.go
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/clock"
	"circdesk/internal/telemetry"
)

// Dispatcher records notifications per patron. It is safe for concurrent use
// and never calls back into the circulation engine.
type Dispatcher struct {
	mu     sync.Mutex
	clock  clock.Clock
	genres GenreIndex
	logger *slog.Logger

	notes []Notification
	index map[uuid.UUID]int
	// sent maps dedupe keys for sweep-driven kinds to the day they stop
	// mattering; keys are dropped once that day has passed.
	sent     map[string]time.Time
	prunedOn time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGenreIndex sets the lookup used for new-arrival matching.
func WithGenreIndex(g GenreIndex) Option {
	return func(d *Dispatcher) { d.genres = g }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(clk clock.Clock, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clock:  clk,
		logger: slog.Default(),
		index:  make(map[uuid.UUID]int),
		sent:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send records n, filling in its id and timestamp.
func (d *Dispatcher) Send(n Notification) Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(n)
}

func (d *Dispatcher) sendLocked(n Notification) Notification {
	n.ID = uuid.New()
	n.CreatedAt = d.clock.Now()
	n.Read = false
	d.index[n.ID] = len(d.notes)
	d.notes = append(d.notes, n)

	telemetry.NotificationsDispatched.WithLabelValues(string(n.Kind)).Inc()
	d.logger.Debug("notification queued", "kind", n.Kind, "patron_id", n.PatronID, "item_id", n.ItemID)
	return n
}

// sendOnce records n unless key was already used. day is the calendar day
// key refers to. It reports whether n was recorded.
func (d *Dispatcher) sendOnce(key string, day time.Time, n Notification) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	if _, ok := d.sent[key]; ok {
		return false
	}
	d.sent[key] = clock.Date(day)
	d.sendLocked(n)
	return true
}

// pruneLocked forgets keys for days before today, at most once a day.
func (d *Dispatcher) pruneLocked() {
	today := clock.Date(d.clock.Now())
	if today.Equal(d.prunedOn) {
		return
	}
	for key, day := range d.sent {
		if day.Before(today) {
			delete(d.sent, key)
		}
	}
	d.prunedOn = today
}

// DueSoon notifies a borrower that a loan is due tomorrow. It fires once per
// loan and due date, so a renewed loan is reminded again for its new date.
func (d *Dispatcher) DueSoon(patronID, itemID, loanID uuid.UUID, due time.Time) bool {
	key := fmt.Sprintf("%s:%s:%s", DueSoon, loanID, due.Format(time.DateOnly))
	return d.sendOnce(key, due, Notification{
		PatronID: patronID,
		Kind:     DueSoon,
		ItemID:   itemID,
		LoanID:   loanID,
		Message:  fmt.Sprintf("Your borrowed item %s is due tomorrow (%s).", itemID, due.Format(time.DateOnly)),
	})
}

// Overdue notifies a borrower of an overdue loan, at most once per loan per day.
func (d *Dispatcher) Overdue(patronID, itemID, loanID uuid.UUID, daysOverdue int, asOf time.Time) bool {
	key := fmt.Sprintf("%s:%s:%s", Overdue, loanID, clock.Date(asOf).Format(time.DateOnly))
	return d.sendOnce(key, asOf, Notification{
		PatronID: patronID,
		Kind:     Overdue,
		ItemID:   itemID,
		LoanID:   loanID,
		Message:  fmt.Sprintf("Your borrowed item %s is overdue by %d days.", itemID, daysOverdue),
	})
}

// ReservationReady tells the head of a reservation queue that the copy is on
// the shelf for them until holdUntil.
func (d *Dispatcher) ReservationReady(patronID, itemID uuid.UUID, holdUntil time.Time) Notification {
	msg := fmt.Sprintf("The item you reserved (%s) is now available.", itemID)
	if !holdUntil.IsZero() {
		msg = fmt.Sprintf("The item you reserved (%s) is now available. It is held for you until %s.",
			itemID, holdUntil.Format(time.DateOnly))
	}
	return d.Send(Notification{
		PatronID: patronID,
		Kind:     ReservationReady,
		ItemID:   itemID,
		Message:  msg,
	})
}

// OnArrival is called when the catalog adds an item. Every patron who
// favours genre gets a new-arrival notice. It returns the number notified.
func (d *Dispatcher) OnArrival(itemID uuid.UUID, title, genre string) int {
	if d.genres == nil || genre == "" {
		return 0
	}
	patrons := d.genres.PatronsFavoring(genre)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range patrons {
		d.sendLocked(Notification{
			PatronID: p,
			Kind:     NewArrival,
			ItemID:   itemID,
			Message:  fmt.Sprintf("New item added in your favorite genre (%s): %s", genre, title),
		})
	}
	return len(patrons)
}

// Announce broadcasts a general message to the given patrons.
func (d *Dispatcher) Announce(patrons []uuid.UUID, message string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range patrons {
		d.sendLocked(Notification{PatronID: p, Kind: Announcement, Message: message})
	}
	return len(patrons)
}

// PendingFor returns the unread notifications for a patron, oldest first.
func (d *Dispatcher) PendingFor(patronID uuid.UUID) []Notification {
	return d.filter(func(n Notification) bool { return n.PatronID == patronID && !n.Read })
}

// AllFor returns every notification for a patron, oldest first.
func (d *Dispatcher) AllFor(patronID uuid.UUID) []Notification {
	return d.filter(func(n Notification) bool { return n.PatronID == patronID })
}

func (d *Dispatcher) filter(keep func(Notification) bool) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Notification, 0)
	for _, n := range d.notes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// MarkRead flags a notification as read. Marking twice is harmless.
func (d *Dispatcher) MarkRead(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("mark %s read: %w", id, ErrNotificationNotFound)
	}
	d.notes[i].Read = true
	return nil
}
